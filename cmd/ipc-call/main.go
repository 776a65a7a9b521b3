// Package main is the entrypoint for ipc-call, a command-line IPC client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/morezero/ipc-bridge/internal/config"
	"github.com/morezero/ipc-bridge/pkg/client"
	"github.com/morezero/ipc-bridge/pkg/commsutil"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const usage = `Usage: ipc-call <endpoint> [key=value ...]

Calls an endpoint on an IPC host and prints the returned content as JSON.
Values are parsed as JSON when possible (42, true, null, [1,2], {"a":1});
anything else is sent as a string.

Environment: IPC_SECRET_KEY, IPC_HOST, IPC_PORT, IPC_PATH, IPC_URL (e.g.
http://localhost:8080/ipc for plain HTTP), IPC_REQUEST_TIMEOUT, COMMS_URL and
IPC_COMMS_SUBJECT to call over NATS instead of HTTP.
`

func main() {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Print(usage)
		if len(args) == 0 {
			os.Exit(2)
		}
		return
	}

	fields, err := parseFields(args[1:])
	if err != nil {
		log.Fatalf("ipc-call: %v", err)
	}
	if err := run(context.Background(), args[0], fields); err != nil {
		log.Fatalf("ipc-call %s: %v", args[0], err)
	}
}

func run(ctx context.Context, endpoint string, fields wire.Fields) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForClient(); err != nil {
		return err
	}

	opts := []client.Option{client.WithPath(cfg.Path), client.WithTimeout(cfg.RequestTimeout)}
	switch {
	case cfg.COMMSURL != "":
		nc, err := commsutil.Connect(cfg.COMMSURL, "ipc-call", commsutil.RoleCaller)
		if err != nil {
			return err
		}
		defer nc.Close()
		opts = append(opts, client.WithComms(nc, cfg.COMMSSubject))
	case cfg.URL != "":
		opts = append(opts, client.WithURL(cfg.URL))
	}

	c := client.New(cfg.HostPort(), cfg.SecretKey, opts...)
	content, err := c.Request(ctx, endpoint, fields)
	if err != nil {
		var remote *wire.RemoteError
		if errors.As(err, &remote) {
			return fmt.Errorf("%s error (code %d): %s", remote.Kind, remote.Code, remote.Message)
		}
		return err
	}

	out, err := json.Marshal(content, jsontext.WithIndent("  "))
	if err != nil {
		return fmt.Errorf("format content: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// parseFields turns key=value arguments into request fields.
func parseFields(args []string) (wire.Fields, error) {
	fields := wire.Fields{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("field %q given more than once", key)
		}
		fields[key] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) any {
	var v any
	if err := wire.Decode([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
