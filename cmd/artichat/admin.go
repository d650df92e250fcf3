package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/thinkscotty/artichat/internal/pipeline"
	"github.com/thinkscotty/artichat/internal/session"
	"github.com/thinkscotty/artichat/internal/settings"
)

// withSession opens the log and settings without answering anything.
func withSession(fn func(sess *session.Controller) error) error {
	sess, kv, err := openSession(pipeline.Hooks{}, nil)
	if err != nil {
		return err
	}
	defer kv.Close()

	if err := sess.Open(); err != nil {
		return err
	}
	runErr := fn(sess)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sess.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the saved conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(sess *session.Controller) error {
			for _, e := range sess.Entries() {
				fmt.Fprintln(cmd.OutOrStdout(), formatEntry(e))
			}
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the conversation, keeping pinned messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(sess *session.Controller) error {
			sess.Clear()
			fmt.Fprintf(cmd.OutOrStdout(), "%d pinned messages kept\n", len(sess.Entries()))
			return nil
		})
	},
}

var resetTrial bool

var trialCmd = &cobra.Command{
	Use:   "trial",
	Short: "Show the free trial status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(sess *session.Controller) error {
			if resetTrial {
				if err := sess.ResetTrial(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), welcome(sess.Status()))
			return nil
		})
	},
}

var settingsFlags struct {
	apiKey        string
	remember      bool
	endpoint      string
	model         string
	backend       string
	imageSize     int
	responseCount int
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change saved settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(sess *session.Controller) error {
			cur := sess.Settings()
			f := cmd.Flags()
			changed := false
			if f.Changed("api-key") {
				cur.APIKey = settingsFlags.apiKey
				cur.RememberKey = settingsFlags.remember
				changed = true
			}
			if f.Changed("endpoint") {
				cur.AIEndpoint = settingsFlags.endpoint
				changed = true
			}
			if f.Changed("model") {
				cur.ChatModel = settingsFlags.model
				changed = true
			}
			if f.Changed("backend") {
				cur.Backend = settingsFlags.backend
				changed = true
			}
			if f.Changed("image-size") {
				cur.ImageSize = settingsFlags.imageSize
				changed = true
			}
			if f.Changed("response-count") {
				cur.ResponseCount = settingsFlags.responseCount
				changed = true
			}
			if changed {
				if err := sess.SaveSettings(cur); err != nil {
					return err
				}
				cur = sess.Settings()
			}

			cur.APIKey = settings.MaskKey(cur.APIKey)
			data, err := json.MarshalIndent(cur, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		})
	},
}

func init() {
	trialCmd.Flags().BoolVar(&resetTrial, "reset", false, "Reset the trial counter")

	f := settingsCmd.Flags()
	f.StringVar(&settingsFlags.apiKey, "api-key", "", "OpenAI API key")
	f.BoolVar(&settingsFlags.remember, "remember", true, "Store the API key on disk")
	f.StringVar(&settingsFlags.endpoint, "endpoint", "", "OpenAI-compatible endpoint URL")
	f.StringVar(&settingsFlags.model, "model", "", "Chat model")
	f.StringVar(&settingsFlags.backend, "backend", "", "Backend: http or sdk")
	f.IntVar(&settingsFlags.imageSize, "image-size", 0, "Image edge: 256, 512 or 1024")
	f.IntVar(&settingsFlags.responseCount, "response-count", 0, "Images per request")
}
