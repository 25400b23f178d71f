package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/docchat/internal/config"
	"github.com/kalambet/docchat/internal/conversation"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Upload and ingest a document locally, without a server",
	Long: `Upload and ingest a document locally, without a server.

The document is stored, indexed and attached to a new conversation exactly
as POST /upload would do it.

Examples:
  docchat ingest ./report.pdf --user 7f3c...`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := setupLogging(cfg); err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening file: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		ctx := cmd.Context()
		a, err := buildApp(ctx, cfg, os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		printStep("Ingesting %s", filepath.Base(args[0]))
		res, err := a.uploader.Upload(ctx, conversation.UploadRequest{
			UserID:   user,
			Filename: filepath.Base(args[0]),
			Size:     info.Size(),
			Body:     f,
		})
		if err != nil {
			return err
		}
		printUploadResult(res)
		return nil
	},
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document to the running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s", filepath.Base(args[0]))
		resp, err := client.upload(cmd.Context(), args[0], user)
		if err != nil {
			return err
		}

		var res conversation.UploadResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printUploadResult(res)
		return nil
	},
}

func printUploadResult(res conversation.UploadResult) {
	if res.Processed {
		printSuccess("Document processed and ready for queries")
	} else {
		printWarning("Document stored but could not be processed")
	}
	printStatus("Conversation", "%s", res.ConversationID)
	printStatus("Document", "%s", res.DocumentID)
	printStatus("File", "%s", res.FileURL)
}

func init() {
	ingestCmd.Flags().String("user", "", "user id that owns the document")
	uploadCmd.Flags().String("user", "", "user id that owns the document")
}

// --- history ---

type conversationSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List a user's conversations, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversations/history?user="+url.QueryEscape(user))
		if err != nil {
			return err
		}

		var convs []conversationSummary
		if err := decodeJSON(resp, &convs); err != nil {
			return err
		}

		if len(convs) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		for _, c := range convs {
			fmt.Printf("%s  %s  %s\n", colorize(styleStep, c.ID), colorize(styleMuted, c.CreatedAt), c.Title)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("user", "", "user id")
}

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		conv, _ := cmd.Flags().GetString("conversation")
		if user == "" || conv == "" {
			return fmt.Errorf("--user and --conversation are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/conversations/send", map[string]string{
			"user":         user,
			"conversation": conv,
			"message":      strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var result struct {
			AssistantResponse string `json:"assistant_response"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result.AssistantResponse)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("user", "", "user id")
	sendCmd.Flags().String("conversation", "", "conversation id")
}

// --- messages ---

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the transcript of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/conversations/%s/messages?user=%s", url.PathEscape(args[0]), url.QueryEscape(user))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var msgs []struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}

		for _, m := range msgs {
			fmt.Printf("%s %s\n%s\n\n", colorize(styleBold, "["+m.Role+"]"), colorize(styleMuted, m.CreatedAt), m.Content)
		}
		return nil
	},
}

func init() {
	messagesCmd.Flags().String("user", "", "user id")
}

// --- reingest ---

var reingestCmd = &cobra.Command{
	Use:   "reingest <document-id>",
	Short: "Queue a document for re-ingestion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents/"+url.PathEscape(args[0])+"/reingest", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Queued job %s", result["job_id"])
		return nil
	},
}

// --- user ---

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/users", map[string]string{"username": args[0]})
		if err != nil {
			return err
		}

		var u struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		}
		if err := decodeJSON(resp, &u); err != nil {
			return err
		}
		printSuccess("Created user %s", u.Username)
		printStatus("ID", "%s", u.ID)
		return nil
	},
}

func init() {
	userCmd.AddCommand(userAddCmd)
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

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out := map[string]string{}
			for _, k := range config.ShowAll(cfg) {
				out[k.Key] = k.Value
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(styleBold, k.Key), k.Value)
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
	configShowCmd.Flags().Bool("json", false, "print as JSON")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
