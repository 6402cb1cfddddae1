// Package storage - key layout and serialization helpers for BadgerDB.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/orneryd/pairsort/pkg/order"
)

// listKey creates a key for storing a list.
func listKey(id string) []byte {
	return append([]byte{prefixList}, []byte(id)...)
}

// decisionPrefix returns the prefix shared by every decision of a list.
// Format: prefix + listID + 0x00
func decisionPrefix(listID string) []byte {
	key := make([]byte, 0, 1+len(listID)+1+8)
	key = append(key, prefixDecision)
	key = append(key, []byte(listID)...)
	key = append(key, 0x00)
	return key
}

// decisionKey creates the key of one log entry. Big-endian sequence numbers
// sort in append order.
func decisionKey(listID string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(decisionPrefix(listID), seq)
}

// decisionSeekLast is the reverse-iteration start for a list's log.
func decisionSeekLast(listID string) []byte {
	return decisionKey(listID, ^uint64(0))
}

// seqKey creates the key of a list's sequence counter.
func seqKey(listID string) []byte {
	return append([]byte{prefixDecisionSeq}, []byte(listID)...)
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeq(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: sequence is %d bytes", ErrInvalidData, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// encodeList converts a List to JSON bytes for BadgerDB storage.
func encodeList(list *List) ([]byte, error) {
	return json.Marshal(list)
}

// decodeList converts JSON bytes back to a List.
func decodeList(data []byte) (*List, error) {
	var list List
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("unmarshaling list: %w", err)
	}
	return &list, nil
}

// encodeDecision converts a Decision to JSON bytes for BadgerDB storage.
func encodeDecision(d order.Decision) ([]byte, error) {
	return json.Marshal(d)
}

// decodeDecision converts JSON bytes back to a Decision.
func decodeDecision(data []byte) (order.Decision, error) {
	var d order.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return order.Decision{}, fmt.Errorf("unmarshaling decision: %w", err)
	}
	return d, nil
}
