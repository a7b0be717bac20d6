package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/codemao-client/pkg/auth"
	"github.com/Sternrassler/codemao-client/pkg/client"
	"github.com/Sternrassler/codemao-client/pkg/pagination"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "codemao-fetch",
		Short: "Resilient request and pagination client for the Codemao API",
		Long: `codemao-fetch sends requests with shared identity headers, retries
failed attempts with exponential backoff and drains paged list endpoints
concurrently.

Configuration is read from an optional YAML file and CODEMAO_* environment
variables; a .env file in the working directory is loaded first.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.StringVar(&a.identity, "identity", "", "identity to switch to (average, edu, judgement, blank)")
	flags.StringVar(&a.token, "token", "", "bearer token for --identity")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newGetCmd(a), newFetchCmd(a), newIdentityCmd(a))
	return root
}

type requestFlags struct {
	method  string
	params  []string
	headers []string
	body    string
	noLog   bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&f.headers, "header", "H", nil, "request header as 'Name: value' (repeatable)")
	cmd.Flags().StringVarP(&f.body, "data", "d", "", "JSON request body")
	cmd.Flags().BoolVar(&f.noLog, "no-log", false, "skip the request log for this call")
}

func (f *requestFlags) payload() (any, error) {
	if f.body == "" {
		return nil, nil
	}
	if !json.Valid([]byte(f.body)) {
		return nil, errors.New("--data is not valid JSON")
	}
	return []byte(f.body), nil
}

func newGetCmd(a *app) *cobra.Command {
	var f requestFlags

	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Send one request and print the response body",
		Args:  cobra.ExactArgs(1),
	}
	f.register(cmd)

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		query, err := parseParams(f.params)
		if err != nil {
			return err
		}
		headers, err := parseHeaders(f.headers)
		if err != nil {
			return err
		}
		body, err := f.payload()
		if err != nil {
			return err
		}

		resp, err := a.client.Execute(cmd.Context(), client.RequestSpec{
			Endpoint: args[0],
			Method:   f.method,
			Query:    query,
			Body:     body,
			Headers:  headers,
			NoLog:    f.noLog,
		})
		if err != nil {
			return err
		}

		a.logger.Debug().
			Int("status", resp.StatusCode).
			Int("attempts", resp.Attempts).
			Dur("elapsed", resp.Elapsed).
			Msg("Request finished")

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, strings.TrimRight(string(resp.Body), "\n"))
		return nil
	})

	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		f         requestFlags
		totalKey  string
		dataKey   string
		strategy  string
		amountKey string
		offsetKey string
		limit     int
		failFast  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <endpoint>",
		Short: "Drain a paged list and print one JSON item per line",
		Args:  cobra.ExactArgs(1),
	}
	f.register(cmd)
	cmd.Flags().StringVar(&totalKey, "total-key", pagination.DefaultTotalKey, "dotted path of the item total in the response")
	cmd.Flags().StringVar(&dataKey, "data-key", pagination.DefaultDataKey, "dotted path of the item array in the response")
	cmd.Flags().StringVar(&strategy, "strategy", string(pagination.StrategyOffset), "pagination strategy (offset or page)")
	cmd.Flags().StringVar(&amountKey, "amount-key", "", "page size parameter (default limit for GET, page_size otherwise)")
	cmd.Flags().StringVar(&offsetKey, "offset-key", "", "offset parameter (default offset for GET, current_page otherwise)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many items (0 for all)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first page or item error")

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		if limit < 0 {
			return fmt.Errorf("--limit must be >= 0 (got %d)", limit)
		}
		query, err := parseParams(f.params)
		if err != nil {
			return err
		}
		body, err := f.payload()
		if err != nil {
			return err
		}

		fields := pagination.FieldsForMethod(f.method)
		if amountKey != "" {
			fields.AmountKey = amountKey
		}
		if offsetKey != "" {
			fields.OffsetKey = offsetKey
		}

		req := pagination.Request{
			Endpoint: args[0],
			Method:   f.method,
			Params:   query,
			Payload:  body,
			TotalKey: totalKey,
			DataKey:  dataKey,
			Strategy: pagination.Strategy(strategy),
			Fields:   &fields,
			Limit:    limit,
			NoLog:    f.noLog,
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		var items, failures int
		for item, err := range pagination.Stream[json.RawMessage](cmd.Context(), a.client, req) {
			if err != nil {
				if failFast {
					return err
				}
				failures++
				a.logger.Warn().Err(err).Msg("Skipping failed page or item")
				continue
			}
			if err := enc.Encode(item); err != nil {
				return fmt.Errorf("write item: %w", err)
			}
			items++
		}

		a.logger.Info().Int("items", items).Int("failures", failures).Msg("Fetch complete")
		if failures > 0 {
			return fmt.Errorf("fetch finished with %d failures", failures)
		}
		return nil
	})

	return cmd
}

func newIdentityCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Show the active identity and which identities hold a token",
		Long: `Show the active identity and which identities hold a token.

Combine with --identity and --token to switch identities; with Redis
configured the switch is persisted for later runs.`,
		Args: cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			state := a.client.Auth()
			out := cmd.OutOrStdout()
			for _, id := range auth.Identities {
				marker := " "
				if id == state.Active() {
					marker = "*"
				}
				status := "no token"
				if _, ok := state.TokenFor(id); ok {
					status = "token"
				}
				fmt.Fprintf(out, "%s %-10s %s\n", marker, id, status)
			}
			return nil
		}),
	}
}

// parseParams turns key=value pairs into query values.
func parseParams(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		values.Add(key, value)
	}
	return values, nil
}

// parseHeaders turns "Name: value" lines into a header map.
func parseHeaders(lines []string) (map[string]string, error) {
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --header %q, want 'Name: value'", line)
		}
		headers[http.CanonicalHeaderKey(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}
