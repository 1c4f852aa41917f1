package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/labstack/gommon/log"

	"github.com/eringen/draftdesk"
	"github.com/eringen/draftdesk/docstore"
	"github.com/eringen/draftdesk/remote"
	"github.com/eringen/draftdesk/stream"
)

// version is set at build time via ldflags.
var version = "dev"

const usage = `draftdesk - a newsletter desk for a remote document service.

Usage:
    draftdesk serve [--config=<file>]
    draftdesk docserver [--config=<file>]
    draftdesk generate [--config=<file>] [--service=<url>]
        --email=<email> --password=<password>
        [--tone=<tone>] [--template=<file>] <topic> [<content>]
    draftdesk init <dir>
    draftdesk version
    draftdesk -h | --help

Options:
    -h --help               Show this screen.
    --config=<file>         YAML configuration [default: draftdesk.yaml].
    --service=<url>         Document service URL, overriding the configuration.
    --email=<email>         Document service account.
    --password=<password>   Document service password.
    --tone=<tone>           Tone of the generated copy.
    --template=<file>       HTML template to fill instead of the default one.`

// fileConfig is the layout of the YAML configuration file.
type fileConfig struct {
	Desk     draftdesk.Config `yaml:"desk"`
	Docstore docstore.Config  `yaml:"docstore"`
}

func loadConfig(opts docopt.Opts) fileConfig {
	var cfg fileConfig
	path, _ := opts.String("--config")
	if err := draftdesk.LoadConfig(path, &cfg); err != nil {
		log.Fatal(err)
	}
	cfg.Desk.ApplyEnv()
	return cfg
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	switch {
	case command(opts, "serve"):
		serve(opts)
	case command(opts, "docserver"):
		docserver(opts)
	case command(opts, "generate"):
		if err := generate(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case command(opts, "init"):
		dir, _ := opts.String("<dir>")
		if err := runInit(dir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case command(opts, "version"):
		fmt.Printf("draftdesk %s\n", version)
	}
}

func command(opts docopt.Opts, name string) bool {
	v, _ := opts.Bool(name)
	return v
}

// runUntilSignal starts a server and shuts it down on SIGINT or SIGTERM.
func runUntilSignal(start func() error, shutdown func(context.Context) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- start() }()

	select {
	case err := <-errc:
		if err != nil {
			log.Fatal(err)
		}
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("shutdown: %v", err)
		}
	}
}

func serve(opts docopt.Opts) {
	cfg := loadConfig(opts)
	app := draftdesk.New(cfg.Desk, draftdesk.DefaultViews())
	defer app.Close()
	log.Infof("draftdesk %s listening on %s, service %s", version, app.Config.Addr, app.Config.ServiceURL)
	runUntilSignal(app.Start, app.Echo.Shutdown)
}

func docserver(opts docopt.Opts) {
	cfg := loadConfig(opts)
	srv := docstore.New(cfg.Docstore)
	defer srv.Close()
	log.Infof("docstore %s listening on %s", version, srv.Config.Addr)
	runUntilSignal(srv.Start, srv.Shutdown)
}

// generate runs one generation from the terminal, printing every progress
// step as it arrives.
func generate(opts docopt.Opts) error {
	cfg := loadConfig(opts)
	service := cfg.Desk.ServiceURL
	if s, _ := opts.String("--service"); s != "" {
		service = s
	}
	if service == "" {
		service = "http://localhost:8000"
	}
	client, err := remote.New(service, remote.WithLogger(log.New("remote")))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	email, _ := opts.String("--email")
	password, _ := opts.String("--password")
	sess, err := client.Login(ctx, remote.Credentials{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	req := remote.GenerateRequest{}
	req.Topic, _ = opts.String("<topic>")
	req.Content, _ = opts.String("<content>")
	req.Tone, _ = opts.String("--tone")
	if path, _ := opts.String("--template"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		req.Template, req.TemplateName = f, path
	}

	res, err := client.With(sess.AccessToken).Generate(ctx, req, func(f stream.Frame) {
		if f.Kind == stream.Progress {
			fmt.Println("  " + f.Text)
		}
	})
	if err != nil {
		var gerr *stream.GenerationError
		if errors.As(err, &gerr) && gerr.Message != "" {
			return errors.New(gerr.Message)
		}
		return err
	}
	fmt.Printf("\nGenerated %s\n", res.Locator)
	return nil
}
