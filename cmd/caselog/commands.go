package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/caselog/internal/config"
	"github.com/kalambet/caselog/internal/ingest"
	"github.com/kalambet/caselog/internal/storage"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Stage, inspect and decide conversation imports",
}

var importFileCmd = &cobra.Command{
	Use:   "file <path>",
	Short: "Stage a parsed conversation export for review",
	Long: `Stage a parsed conversation export for review.

The file must contain parser output JSON (title, participants, messages).
Nothing is written to the record until the import is decided.

Examples:
  caselog import file ./export.json
  caselog import decide 3f2a... append --conversation 9c1b...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		var parsed ingest.ParsedConversation
		if err := json.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("invalid export JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/imports", parsed)
		if err != nil {
			return err
		}

		var report ingest.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSuccess("Staged import %s", report.ImportID)
		printStatus("Messages", "%d (%d duplicate fragments merged)", report.MessageCount, report.FragmentsMerged)

		for _, w := range report.Warnings {
			printWarning("%s", w)
		}

		for _, p := range report.Participants {
			if p.PersonID != "" {
				printStatus("Participant", "%s linked to %s (%s, %.2f)", p.Name, p.PersonID, p.MatchType, p.Score)
				continue
			}
			printWarning("Participant %q is not in the person directory", p.Name)
			for _, s := range p.Suggestions {
				printStatus("Suggestion", "%s (%s, %.2f)", s.FullName, s.MatchType, s.Score)
			}
		}

		switch {
		case report.Splice != nil:
			printStep("Looks like a re-export of conversation %s (splice at message %d)",
				report.Splice.ConversationID, report.Splice.SpliceIndex)
		case report.Overlap.Primary != nil:
			printStep("Overlaps conversation %s (%d shared messages)",
				report.Overlap.Primary.Conversation.ID, report.Overlap.Primary.HashOverlap)
		case len(report.Overlap.Candidates) > 0:
			printStep("Date overlap with %d existing conversation(s), no shared messages", len(report.Overlap.Candidates))
		default:
			printStep("No continuity with existing conversations detected")
		}

		printStep("Decide with: caselog import decide %s <append|create_separate|cancel>", report.ImportID)
		return nil
	},
}

var importListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent imports",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/imports?limit=%d", limit))
		if err != nil {
			return err
		}

		var imports []storage.Import
		if err := decodeJSON(resp, &imports); err != nil {
			return err
		}

		if len(imports) == 0 {
			fmt.Println("No imports found.")
			return nil
		}

		for _, im := range imports {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, im.ID[:8]),
				im.CreatedAt.Format("2006-01-02 15:04"),
				im.Status,
			)
		}
		return nil
	},
}

var importShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a staged import as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/imports/"+args[0])
		if err != nil {
			return err
		}

		var record any
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

var importDecideCmd = &cobra.Command{
	Use:   "decide <id> <append|create_separate|cancel>",
	Short: "Apply a decision to a staged import",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversation, _ := cmd.Flags().GetString("conversation")
		title, _ := cmd.Flags().GetString("title")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		decision := ingest.Decision{
			Action:         args[1],
			ConversationID: conversation,
			Title:          title,
		}
		resp, err := client.post(cmd.Context(), "/imports/"+args[0]+"/decision", decision)
		if err != nil {
			return err
		}

		var result ingest.ApplyResult
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		switch args[1] {
		case ingest.DecisionCancel:
			printSuccess("Import %s discarded", result.ImportID)
		default:
			printSuccess("Import %s applied to conversation %s", result.ImportID, result.ConversationID)
			printStatus("Added", "%d messages (%d already known)", result.MessagesAdded, result.MessagesKnown)
			if result.Method != "" {
				printStatus("Method", "%s", result.Method)
			}
		}
		return nil
	},
}

func init() {
	importListCmd.Flags().Int("limit", 20, "maximum number of imports to list")
	importDecideCmd.Flags().String("conversation", "", "target conversation ID for append")
	importDecideCmd.Flags().String("title", "", "title for a separately created conversation")
	importCmd.AddCommand(importFileCmd)
	importCmd.AddCommand(importListCmd)
	importCmd.AddCommand(importShowCmd)
	importCmd.AddCommand(importDecideCmd)
}

// --- people ---

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "Manage the person directory",
}

var peopleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List people in the directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/people")
		if err != nil {
			return err
		}

		var people []storage.Person
		if err := decodeJSON(resp, &people); err != nil {
			return err
		}

		if len(people) == 0 {
			fmt.Println("No people found.")
			return nil
		}

		for _, p := range people {
			fmt.Printf("%s  %-12s  %s\n",
				colorize(colorCyan, p.ID[:8]),
				p.Role,
				p.FullName,
			)
		}
		return nil
	},
}

var peopleAddCmd = &cobra.Command{
	Use:   "add <full name>",
	Short: "Add a person to the directory",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		roleContext, _ := cmd.Flags().GetString("context")

		name := args[0]
		for _, a := range args[1:] {
			name += " " + a
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{
			"full_name":    name,
			"role":         role,
			"role_context": roleContext,
		}
		resp, err := client.post(cmd.Context(), "/people", req)
		if err != nil {
			return err
		}

		var person storage.Person
		if err := decodeJSON(resp, &person); err != nil {
			return err
		}

		printSuccess("Added %s (%s) as %s", person.FullName, person.Role, person.ID)
		return nil
	},
}

var peopleNotesCmd = &cobra.Command{
	Use:   "notes <id>",
	Short: "Show behavioral notes recorded for a person",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/people/"+args[0]+"/notes")
		if err != nil {
			return err
		}

		var notes []storage.ProfileNote
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}

		if len(notes) == 0 {
			fmt.Println("No notes found.")
			return nil
		}

		for _, n := range notes {
			fmt.Printf("\n%s [%s]\n", colorize(colorBold, n.Type), n.SourceConversationID[:8])
			fmt.Printf("  %s\n", n.Content)
		}
		return nil
	},
}

func init() {
	peopleAddCmd.Flags().String("role", "other", "role of the person (me, co_parent, child, other)")
	peopleAddCmd.Flags().String("context", "", "free-form role context")
	peopleCmd.AddCommand(peopleListCmd)
	peopleCmd.AddCommand(peopleAddCmd)
	peopleCmd.AddCommand(peopleNotesCmd)
}

// --- issues ---

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Inspect tracked issues",
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/issues")
		if err != nil {
			return err
		}

		var issues []storage.Issue
		if err := decodeJSON(resp, &issues); err != nil {
			return err
		}

		if len(issues) == 0 {
			fmt.Println("No issues found.")
			return nil
		}

		for _, is := range issues {
			fmt.Printf("%s  %-8s  %-8s  %s\n",
				colorize(colorCyan, is.ID[:8]),
				is.Status,
				is.Priority,
				is.Title,
			)
		}
		return nil
	},
}

var issuesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an issue with contributions and linked messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/issues/"+args[0])
		if err != nil {
			return err
		}

		var issue any
		if err := decodeJSON(resp, &issue); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(issue)
	},
}

func init() {
	issuesCmd.AddCommand(issuesListCmd)
	issuesCmd.AddCommand(issuesShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
