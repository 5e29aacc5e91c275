package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adamwoolhether/courier/client"
)

const envPrefix = "COURIER"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// settings are the scalar flags, resolvable from flags, COURIER_*
// environment variables or a config file, in that order.
var settings = []string{
	"request", "data", "form", "json", "compressed", "stream", "output",
	"max-buffer", "timeout", "user-agent", "rate", "burst", "expect", "verbose",
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "courier [flags] URL",
		Short:        "Perform an HTTP request and print the response body",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringP("request", "X", "get", "request method")
	flags.StringArrayP("header", "H", nil, "request header as 'Name: value', repeatable")
	flags.StringArray("path", nil, "path segment joined onto the URL, repeatable")
	flags.StringArrayP("query", "q", nil, "query parameter as 'key=value', repeatable")
	flags.StringP("data", "d", "", "request body, sent as-is unless --form or --json is set")
	flags.Bool("form", false, "send --data as a url encoded form")
	flags.Bool("json", false, "send --data as JSON")
	flags.Bool("compressed", false, "request and decode gzip or deflate responses")
	flags.Bool("stream", false, "stream the body instead of buffering it")
	flags.StringP("output", "o", "", "write the body to this file instead of stdout")
	flags.Int64("max-buffer", 0, "fail once a buffered body exceeds this many bytes, 0 disables")
	flags.Duration("timeout", 0, "abort the request after this long, 0 disables")
	flags.String("user-agent", "courier/1.0", "User-Agent header")
	flags.Int("rate", 0, "requests per second, 0 disables throttling")
	flags.Int("burst", 1, "throttle burst capacity")
	flags.Int("expect", 0, "fail unless the response has this status code")
	flags.BoolP("verbose", "v", false, "log request details to stderr")
	flags.String("config", "", "config file providing defaults for the flags")

	return cmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range settings {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	return nil
}

func run(cmd *cobra.Command, v *viper.Viper, rawURL string) error {
	level := slog.LevelWarn
	if v.GetBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	c, err := buildClient(v, logger)
	if err != nil {
		return err
	}

	reqOpts, err := requestOptions(cmd, v)
	if err != nil {
		return err
	}

	d, err := client.Request(rawURL, reqOpts...)
	if err != nil {
		return err
	}

	out, err := c.Execute(cmd.Context(), d)
	if err != nil {
		return err
	}

	if out.IsStream() {
		return writeStream(cmd, v, logger, out.Stream)
	}

	return writeResponse(cmd, v, out.Response)
}

func buildClient(v *viper.Viper, logger *slog.Logger) (*client.Client, error) {
	opts := []client.Option{
		client.WithLogger(logger),
		client.WithUserAgent(v.GetString("user-agent")),
	}
	if rate := v.GetInt("rate"); rate > 0 {
		opts = append(opts, client.WithThrottle(rate, v.GetInt("burst")))
	}

	return client.Build(opts...)
}

func requestOptions(cmd *cobra.Command, v *viper.Viper) ([]client.RequestOption, error) {
	opts := []client.RequestOption{
		client.WithMethod(v.GetString("request")),
		client.WithCompression(v.GetBool("compressed")),
		client.WithStream(v.GetBool("stream")),
		client.WithMaxBufferSize(v.GetInt64("max-buffer")),
		client.WithResponseTimeout(v.GetDuration("timeout")),
	}

	paths, err := cmd.Flags().GetStringArray("path")
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		opts = append(opts, client.WithPath(p))
	}

	headers, err := cmd.Flags().GetStringArray("header")
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		opts = append(opts, client.WithHeader(strings.TrimSpace(name), strings.TrimSpace(value)))
	}

	query, err := cmd.Flags().GetStringArray("query")
	if err != nil {
		return nil, err
	}
	for _, q := range query {
		key, value, ok := strings.Cut(q, "=")
		if !ok {
			return nil, fmt.Errorf("invalid query %q, expected 'key=value'", q)
		}
		opts = append(opts, client.WithQuery(key, value))
	}

	payload, err := payloadOption(v)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		opts = append(opts, payload)
	}

	return opts, nil
}

func payloadOption(v *viper.Viper) (client.RequestOption, error) {
	data := v.GetString("data")
	if data == "" {
		return nil, nil
	}

	switch {
	case v.GetBool("form") && v.GetBool("json"):
		return nil, errors.New("--form and --json are mutually exclusive")
	case v.GetBool("form"):
		values, err := parseForm(data)
		if err != nil {
			return nil, err
		}
		return client.WithEncodedPayload(values, client.EncodingForm), nil
	case v.GetBool("json"):
		var body any
		if err := json.Unmarshal([]byte(data), &body); err != nil {
			return nil, fmt.Errorf("parsing --data as json: %w", err)
		}
		return client.WithEncodedPayload(body, client.EncodingJSON), nil
	default:
		return client.WithEncodedPayload([]byte(data), client.EncodingBuffer), nil
	}
}

func parseForm(data string) (map[string]string, error) {
	values := make(map[string]string)
	for pair := range strings.SplitSeq(data, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid form pair %q, expected 'key=value'", pair)
		}
		values[key] = value
	}

	return values, nil
}

func writeResponse(cmd *cobra.Command, v *viper.Viper, resp *client.Response) error {
	if code := v.GetInt("expect"); code != 0 {
		if err := resp.Expect(code); err != nil {
			return err
		}
	}

	if path := v.GetString("output"); path != "" {
		if err := os.WriteFile(path, resp.Bytes(), 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		return nil
	}

	_, err := cmd.OutOrStdout().Write(resp.Bytes())
	return err
}

func writeStream(cmd *cobra.Command, v *viper.Viper, logger *slog.Logger, s *client.Stream) (err error) {
	if code := v.GetInt("expect"); code != 0 && s.StatusCode != code {
		err = fmt.Errorf("%w: got %d, expected %d", client.ErrUnexpectedStatusCode, s.StatusCode, code)
		if cerr := s.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing stream: %w", cerr))
		}
		return err
	}

	if path := v.GetString("output"); path != "" {
		var opts []client.SaveOption
		if v.GetBool("verbose") {
			opts = append(opts, client.WithSaveProgress(logger))
		}
		return s.SaveTo(cmd.Context(), path, opts...)
	}

	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing stream: %w", cerr)
		}
	}()

	if _, err := io.Copy(cmd.OutOrStdout(), s); err != nil {
		return fmt.Errorf("copying stream: %w", err)
	}

	return nil
}
