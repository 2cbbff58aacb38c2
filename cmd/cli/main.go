// Command reelhub is a terminal client for the content API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:3000"

var (
	baseURL     string
	sessionPath string
)

var rootCmd = &cobra.Command{
	Use:           "reelhub",
	Short:         "Browse the catalog and manage watch history from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "api", defaultBaseURL, "API base URL")
	rootCmd.PersistentFlags().StringVar(&sessionPath, "session", defaultSessionPath(), "session file path")

	rootCmd.AddCommand(authCmd(), contentCmd(), historyCmd(), watchCmd())
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "Sign up, log in and out"}

	var username, password string
	credentials := func(c *cobra.Command) {
		c.Flags().StringVarP(&username, "username", "u", "", "username")
		c.Flags().StringVarP(&password, "password", "p", "", "password")
		_ = c.MarkFlagRequired("username")
		_ = c.MarkFlagRequired("password")
	}

	signup := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp map[string]any
			err := newAPIClient(baseURL).do(cmd.Context(), http.MethodPost, "/api/auth/signup", "",
				map[string]string{"username": username, "password": password}, &resp)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	credentials(signup)

	login := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Token     string `json:"token"`
				ExpiresAt string `json:"expires_at"`
				User      struct {
					Username string `json:"username"`
				} `json:"user"`
			}
			err := newAPIClient(baseURL).do(cmd.Context(), http.MethodPost, "/api/auth/login", "",
				map[string]string{"username": username, "password": password}, &resp)
			if err != nil {
				return err
			}
			if err := saveSession(sessionPath, session{Token: resp.Token, Username: resp.User.Username, ExpiresAt: resp.ExpiresAt}); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (until %s)\n", resp.User.Username, resp.ExpiresAt)
			return nil
		},
	}
	credentials(login)

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return clearSession(sessionPath)
		},
	}

	me := &cobra.Command{
		Use:   "me",
		Short: "Show the logged in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSession(sessionPath)
			if err != nil {
				return err
			}
			var resp map[string]any
			if err := newAPIClient(baseURL).do(cmd.Context(), http.MethodGet, "/api/auth/me", s.Token, nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.AddCommand(signup, login, logout, me)
	return cmd
}

func contentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "content", Short: "Browse the catalog"}

	get := func(path string) func(*cobra.Command) error {
		return func(cmd *cobra.Command) error {
			var resp map[string]any
			if err := newAPIClient(baseURL).do(cmd.Context(), http.MethodGet, path, "", nil, &resp); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		}
	}

	list := &cobra.Command{
		Use:       "list [all|movies|series|anime]",
		Short:     "List a catalog",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"all", "movies", "series", "anime"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			return get("/api/content/" + which)(cmd)
		},
	}

	var searchType string
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy search titles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"type": {searchType}, "q": {args[0]}}
			return get("/api/content/search?" + q.Encode())(cmd)
		},
	}
	search.Flags().StringVarP(&searchType, "type", "t", "movie", "movie, series or anime")

	show := &cobra.Command{
		Use:   "show <contentid>",
		Short: "Show a title by content id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/content/by-contentid/" + url.PathEscape(args[0]))(cmd)
		},
	}

	episodes := &cobra.Command{
		Use:   "episodes <series name>",
		Short: "List the seasons of a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return get("/api/content/series-episodes/" + url.PathEscape(args[0]))(cmd)
		},
	}

	cmd.AddCommand(list, search, show, episodes)
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Manage your watch history"}

	call := func(cmd *cobra.Command, method, path string, payload any) error {
		s, err := loadSession(sessionPath)
		if err != nil {
			return err
		}
		var resp map[string]any
		if err := newAPIClient(baseURL).do(cmd.Context(), method, fmt.Sprintf(path, url.PathEscape(s.Username)), s.Token, payload, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List watched titles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, http.MethodGet, "/api/content/history/%s", nil)
		},
	}

	open := &cobra.Command{
		Use:   "open <contentid>",
		Short: "Open a title, adding it to your history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodGet, "/api/content/history-content/%s/"+url.PathEscape(args[0]), nil)
		},
	}

	var leaving int
	progress := &cobra.Command{
		Use:   "progress <contentid>",
		Short: "Record where you stopped watching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, http.MethodPatch, "/api/content/history/%s/"+url.PathEscape(args[0])+"/progress",
				map[string]int{"leaving": leaving})
		},
	}
	progress.Flags().IntVarP(&leaving, "at", "a", 0, "position in seconds")
	_ = progress.MarkFlagRequired("at")

	var (
		addType, addName string
		season, episode  int
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add an entry without opening it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload := map[string]any{"type": addType, "name": addName}
			if season > 0 {
				payload["season"] = season
			}
			if episode > 0 {
				payload["episode"] = episode
			}
			return call(cmd, http.MethodPost, "/api/content/history/%s/add", payload)
		},
	}
	add.Flags().StringVarP(&addType, "type", "t", "movie", "movie, series or anime")
	add.Flags().StringVarP(&addName, "name", "n", "", "title name")
	add.Flags().IntVar(&season, "season", 0, "season number")
	add.Flags().IntVar(&episode, "episode", 0, "episode number")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(list, open, progress, add)
	return cmd
}

func watchCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live history events over websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			header := http.Header{}
			s, err := loadSession(sessionPath)
			switch {
			case err == nil:
				// servers with history auth pin the stream to the token's user
				header.Set("Authorization", "Bearer "+s.Token)
				if !all {
					q.Set("username", s.Username)
				}
			case !all:
				return err
			}
			wsURL, err := websocketURL(baseURL, "/ws", q)
			if err != nil {
				return err
			}

			conn, resp, err := websocket.DefaultDialer.DialContext(cmd.Context(), wsURL, header)
			if err != nil {
				if resp != nil && resp.StatusCode == http.StatusUnauthorized {
					return errors.New("websocket rejected the session, please login again")
				}
				return err
			}
			defer conn.Close()
			go func() {
				<-cmd.Context().Done()
				_ = conn.Close()
			}()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(msg))
			}
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show events for every user (only on servers without history auth)")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
