package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/pairsort/pkg/borda"
	"github.com/orneryd/pairsort/pkg/codec"
	"github.com/orneryd/pairsort/pkg/order"
	"github.com/orneryd/pairsort/pkg/session"
)

func runNew(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	strategy, _ := cmd.Flags().GetString("strategy")
	items := args[1:]
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		fromFile, err := readLines(file)
		if err != nil {
			return err
		}
		items = append(items, fromFile...)
	}

	list, err := svc.CreateList(cmd.Context(), args[0], items, strategy)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Created list %q with %d items (%s)\n", list.Name, len(list.Items), list.Strategy)
	fmt.Fprintf(cmd.OutOrStdout(), "   ID: %s\n", list.ID)
	return nil
}

func runLists(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := cmd.Context()
	lists, err := svc.Lists(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(lists) == 0 {
		fmt.Fprintln(out, "No lists yet. Create one with: pairsort new <name> <items...>")
		return nil
	}
	for _, list := range lists {
		st, err := svc.Status(ctx, list.ID)
		if err != nil {
			return err
		}
		state := "in progress"
		if st.Done {
			state = "sorted"
		}
		fmt.Fprintf(out, "%s  %-24s %3d items  %3d decisions  %s (%d/%d pairs known)\n",
			list.ID, list.Name, len(list.Items), st.Decisions, state, st.Progress.Known, st.Progress.Total)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.DeleteList(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted %s\n", args[0])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), st)
	return nil
}

func runSort(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	return promptLoop(cmd.Context(), svc, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
}

// promptLoop asks comparisons until the list is sorted, the input ends or
// the user quits. Every answer is stored immediately, so quitting loses
// nothing.
func promptLoop(ctx context.Context, svc *session.Service, id string, in io.Reader, out io.Writer) error {
	st, err := svc.Status(ctx, id)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)

	for !st.Done {
		c := st.Comparison
		fmt.Fprintf(out, "\n[%d/%d] Which is larger?\n", st.Progress.Known, st.Progress.Total)
		fmt.Fprintf(out, "  1) %s\n  2) %s\n", c.A, c.B)
		fmt.Fprint(out, "Choice (1/2, u=undo, r=ranking, q=quit): ")

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		var d order.Decision
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "1", "a":
			d = order.Decision{Larger: c.A, Smaller: c.B}
		case "2", "b":
			d = order.Decision{Larger: c.B, Smaller: c.A}
		case "u", "undo":
			next, err := svc.Undo(ctx, id)
			if errors.Is(err, session.ErrNothingToUndo) {
				fmt.Fprintln(out, "Nothing to undo.")
				continue
			}
			if err != nil {
				return err
			}
			st = next
			continue
		case "r", "ranking":
			printStatus(out, st)
			continue
		case "q", "quit", "exit":
			fmt.Fprintln(out, "💾 Progress saved.")
			return nil
		default:
			fmt.Fprintln(out, "Please answer 1 or 2.")
			continue
		}

		res, err := svc.Decide(ctx, id, d)
		if err != nil {
			return err
		}
		if res.Outcome == order.OutcomeContradiction {
			fmt.Fprintln(out, "⚠️  That contradicts an earlier answer and was ignored.")
		}
		st = res.Status
	}

	fmt.Fprintf(out, "\n✅ Sorted after %d decisions:\n", st.Decisions)
	printRanking(out, st.Sorted)
	return nil
}

func printStatus(out io.Writer, st *session.Status) {
	if st.Done {
		fmt.Fprintf(out, "✅ Sorted (%s, %d decisions):\n", st.Strategy, st.Decisions)
		printRanking(out, st.Sorted)
		return
	}
	fmt.Fprintf(out, "⏳ In progress (%s, %d decisions, %d/%d pairs known)\n",
		st.Strategy, st.Decisions, st.Progress.Known, st.Progress.Total)
	if len(st.Sorted) > 0 {
		fmt.Fprintln(out, "Settled:")
		printRanking(out, st.Sorted)
	}
	if len(st.IncompleteSorted) > 0 {
		fmt.Fprintf(out, "Partially ordered: %s\n", strings.Join(st.IncompleteSorted, ", "))
	}
	if len(st.NotSorted) > 0 {
		fmt.Fprintf(out, "Not yet placed: %s\n", strings.Join(st.NotSorted, ", "))
	}
	if st.Comparison != nil {
		fmt.Fprintf(out, "Next: %q vs %q\n", st.Comparison.A, st.Comparison.B)
	}
}

func printRanking(out io.Writer, items []string) {
	for i, item := range items {
		fmt.Fprintf(out, "%4d. %s\n", i+1, item)
	}
}

func runExport(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	name, _ := cmd.Flags().GetString("format")
	format, err := codec.ParseFormat(name)
	if err != nil {
		return err
	}
	exp, err := svc.Export(cmd.Context(), args[0], format)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		if err := os.WriteFile(output, data, 0644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Exported %s to %s\n", args[0], output)
		return nil
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading import: %w", err)
	}
	var exp session.Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return fmt.Errorf("parsing import: %w", err)
	}

	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	list, err := svc.Import(cmd.Context(), &exp)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "📥 Imported %q as %s\n", list.Name, list.ID)
	return nil
}

func runVote(cmd *cobra.Command, args []string) error {
	svc, _, err := openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()

	name, _ := cmd.Flags().GetString("method")
	method, err := borda.ParseMethod(name)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	rankings := make([][]string, 0, len(args))
	for _, id := range args {
		st, err := svc.Status(ctx, id)
		if err != nil {
			return fmt.Errorf("list %s: %w", id, err)
		}
		if !st.Done {
			fmt.Fprintf(out, "⚠️  %s is not fully sorted; using its partial ranking\n", id)
			partial := append(slices.Clone(st.Sorted), st.IncompleteSorted...)
			rankings = append(rankings, partial)
			continue
		}
		rankings = append(rankings, st.Sorted)
	}

	results, err := borda.AggregateWith(rankings, borda.Options{Method: method})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "🗳️  Combined ranking (%s, %d lists):\n", method, len(rankings))
	for i, r := range results {
		fmt.Fprintf(out, "%4d. %-32s %8.3f\n", i+1, r.Item, r.Score)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}
