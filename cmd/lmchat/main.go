package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/germanamz/lmchat/pkg/chats/codec"
	"github.com/germanamz/lmchat/pkg/chats/content"
	"github.com/germanamz/lmchat/pkg/chats/message"
	"github.com/germanamz/lmchat/pkg/engine"
	"github.com/germanamz/lmchat/pkg/languagemodel"
	"github.com/germanamz/lmchat/pkg/logging"
	"github.com/germanamz/lmchat/pkg/modeladapter"
	"github.com/joho/godotenv"
)

// options holds the parsed command line.
type options struct {
	configPath    string
	provider      string
	system        string
	justification string
	images        []string
	temperature   float64
	maxTokens     int
	count         bool
	jsonOut       bool
	plain         bool
	width         int
	prompt        string
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lmchat [flags] [prompt...]\n\nSend a prompt to a configured model, or count its tokens.\nA prompt of \"-\" (or none) is read from stdin.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	var o options

	envFile := flag.String("env", ".env", "path to .env file (ignored if missing)")
	flag.StringVar(&o.configPath, "config", "lmchat.yaml", "path to configuration file")
	flag.StringVar(&o.provider, "provider", "", "provider to use (default: default_provider or the first one)")
	flag.StringVar(&o.system, "system", "", "system prompt")
	flag.StringVar(&o.justification, "justification", "", "reason for the request, forwarded to the backend")
	flag.Func("image", "attach an image file (repeatable)", func(s string) error {
		o.images = append(o.images, s)
		return nil
	})
	flag.Float64Var(&o.temperature, "temperature", 0, "sampling temperature (0 uses the provider default)")
	flag.IntVar(&o.maxTokens, "max-tokens", 0, "maximum reply tokens (0 uses the provider default)")
	flag.BoolVar(&o.count, "count", false, "count input tokens instead of sending")
	flag.BoolVar(&o.jsonOut, "json", false, "print the reply (or count) as JSON")
	flag.BoolVar(&o.plain, "plain", false, "stream raw text without markdown rendering")
	flag.IntVar(&o.width, "width", 100, "terminal width used for wrapping")
	flag.Parse()

	o.prompt = strings.Join(flag.Args(), " ")

	if err := loadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
		if errors.Is(err, languagemodel.ErrCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// run loads the configuration, builds the conversation and either sends it or
// counts its tokens.
func run(ctx context.Context, o options, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := engine.LoadConfig(o.configPath)
	if err != nil {
		return err
	}

	log, closer, err := logging.New(cfg.Log, stderr)
	if err != nil {
		log.Warn("log file unavailable, logging to stderr", "error", err)
	}
	defer func() { _ = closer.Close() }()

	eng, err := engine.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	chat, err := eng.Chat(o.provider)
	if err != nil {
		return err
	}

	msgs, err := buildMessages(o, stdin)
	if err != nil {
		return err
	}

	if o.count {
		return countTokens(ctx, chat, msgs, o.jsonOut, stdout)
	}

	resp, err := chat.SendRequest(ctx, msgs, requestOptions(o))
	if err != nil {
		return err
	}
	defer resp.Close()

	if o.jsonOut {
		msg, err := resp.Collect()
		if err != nil {
			return err
		}

		data, err := codec.MarshalMessage(msg)
		if err != nil {
			return err
		}

		_, err = fmt.Fprintln(stdout, string(data))
		return err
	}

	return newRenderer(stdout, o.width, o.plain).render(resp)
}

// buildMessages turns the prompt, system prompt and image files into a
// conversation.
func buildMessages(o options, stdin io.Reader) ([]message.Message, error) {
	prompt := o.prompt
	if prompt == "" || prompt == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}

	var parts []content.Part
	if prompt != "" {
		parts = append(parts, content.Text{Text: prompt})
	}

	for _, path := range o.images {
		img, err := readImage(path)
		if err != nil {
			return nil, err
		}
		parts = append(parts, img)
	}

	if len(parts) == 0 {
		return nil, errors.New("empty prompt")
	}

	var msgs []message.Message
	if o.system != "" {
		msgs = append(msgs, message.SystemText(o.system))
	}

	user, err := message.User("", parts...)
	if err != nil {
		return nil, err
	}

	return append(msgs, user), nil
}

// readImage loads an image file, sniffing its media type from the content.
// Files over content.MaxImageSize are rejected before they are read.
func readImage(path string) (content.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return content.Image{}, fmt.Errorf("read image: %w", err)
	}
	if info.Size() > content.MaxImageSize {
		return content.Image{}, fmt.Errorf("image %s: %w: file is %d bytes, limit is %d", path, content.ErrInvalidPart, info.Size(), content.MaxImageSize)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return content.Image{}, fmt.Errorf("read image: %w", err)
	}

	mime, err := content.ParseMimeType(http.DetectContentType(data))
	if err != nil {
		return content.Image{}, fmt.Errorf("image %s: %w", path, err)
	}

	img, err := content.NewImage(mime, data)
	if err != nil {
		return content.Image{}, fmt.Errorf("image %s: %w", path, err)
	}

	return img, nil
}

func requestOptions(o options) modeladapter.Options {
	opts := modeladapter.Options{Justification: o.justification}

	if o.temperature != 0 || o.maxTokens > 0 {
		opts.ModelOptions = map[string]any{}
	}
	if o.temperature != 0 {
		opts.ModelOptions["temperature"] = o.temperature
	}
	if o.maxTokens > 0 {
		opts.ModelOptions["max_tokens"] = o.maxTokens
	}

	return opts
}

// countTokens prints the summed token count of msgs.
func countTokens(ctx context.Context, chat languagemodel.Chat, msgs []message.Message, jsonOut bool, out io.Writer) error {
	total := 0
	for _, m := range msgs {
		n, err := chat.CountTokens(ctx, m)
		if err != nil {
			return err
		}
		total += n
	}

	if jsonOut {
		return json.NewEncoder(out).Encode(map[string]int{"tokens": total})
	}

	_, err := fmt.Fprintf(out, "%d\n", total)
	return err
}
