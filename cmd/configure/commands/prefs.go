package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/database"
	"github.com/spf13/cobra"
)

// NewPrefsCmd creates the prefs command with get and set subcommands.
func NewPrefsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Manage user conversation preferences",
		Long:  "Get or update a user's tone, emoji density, context window size and language. Stored in database.",
	}
	cmd.AddCommand(newPrefsGetCmd())
	cmd.AddCommand(newPrefsSetCmd())
	return cmd
}

func openPreferenceRepo() (*database.PreferenceRepository, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return database.NewPreferenceRepository(db), func() { _ = db.Close() }, nil
}

func newPrefsGetCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a user's preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			repo, closeDB, err := openPreferenceRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			pref, err := repo.GetOrCreate(context.Background(), userID)
			if err != nil {
				return fmt.Errorf("get preferences: %w", err)
			}
			fmt.Printf("Preferences for %s:\n", pref.UserID)
			fmt.Printf("  Tone:                %s\n", pref.Tone)
			fmt.Printf("  Emoji density:       %s\n", pref.EmojiDensity)
			fmt.Printf("  Context window size: %d\n", pref.ContextWindowSize)
			fmt.Printf("  Language:            %s\n", pref.Language)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User identifier (required)")
	return cmd
}

func newPrefsSetCmd() *cobra.Command {
	var (
		userID       string
		tone         string
		emojiDensity string
		windowSize   int
		language     string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update a user's preferences",
		Long:  "Update one or more preference fields. Unset flags keep their current value.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			repo, closeDB, err := openPreferenceRepo()
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := context.Background()
			pref, err := repo.GetOrCreate(ctx, userID)
			if err != nil {
				return fmt.Errorf("get preferences: %w", err)
			}

			if cmd.Flags().Changed("tone") {
				pref.Tone = tone
			}
			if cmd.Flags().Changed("emoji") {
				pref.EmojiDensity = emojiDensity
			}
			if cmd.Flags().Changed("window") {
				if windowSize < 1 || windowSize > 50 {
					return fmt.Errorf("--window must be between 1 and 50")
				}
				pref.ContextWindowSize = windowSize
			}
			if cmd.Flags().Changed("language") {
				pref.Language = language
			}

			if err := repo.Update(ctx, pref); err != nil {
				return fmt.Errorf("update preferences: %w", err)
			}
			fmt.Println("Preferences updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User identifier (required)")
	cmd.Flags().StringVar(&tone, "tone", "", "Tone (friendly, professional, casual, playful)")
	cmd.Flags().StringVar(&emojiDensity, "emoji", "", "Emoji density (none, moderate, heavy)")
	cmd.Flags().IntVar(&windowSize, "window", 0, "Context window size (1-50)")
	cmd.Flags().StringVar(&language, "language", "", "Preferred language (BCP 47 tag)")
	return cmd
}
