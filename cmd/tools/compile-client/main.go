package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/namsral/flag"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vyper-compiler-api/internal/routing"
)

type arguments struct {
	Server       string
	Entrypoint   string
	Follow       bool
	Timeout      time.Duration
	PollInterval time.Duration
	Files        []string
}

func parseArguments() arguments {
	args := arguments{}

	flag.StringVar(&args.Server, "server", "http://localhost:8080", "compiler api address")
	flag.StringVar(&args.Entrypoint, "entrypoint", "", "unit reported at the top level")
	flag.BoolVar(&args.Follow, "follow", false, "wait on the websocket instead of polling")
	flag.DurationVar(&args.Timeout, "timeout", 2*time.Minute, "")
	flag.DurationVar(&args.PollInterval, "poll-interval", 250*time.Millisecond, "")

	flag.Parse()
	args.Files = flag.Args()

	return args
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	args := parseArguments()

	if len(args.Files) == 0 {
		log.Fatal().Msg("usage: compile-client [flags] file.vy [file.vy...]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), args.Timeout)
	defer cancel()

	request, err := readSources(args.Files, args.Entrypoint)

	if err != nil {
		log.Fatal().Err(err).Msg("failed to read sources")
	}

	id, err := submit(ctx, args.Server, request)

	if err != nil {
		log.Fatal().Err(err).Msg("failed to submit compilation")
	}

	log.Info().Str("id", id).Msg("submitted compilation")

	if args.Follow {
		err = follow(ctx, args.Server, id)
	} else {
		err = poll(ctx, args.Server, id, args.PollInterval)
	}

	if err != nil {
		log.Fatal().Err(err).Str("id", id).Msg("failed to wait for compilation")
	}

	artifacts, status, err := get(ctx, args.Server+"/artifacts/"+id)

	if err != nil {
		log.Fatal().Err(err).Str("id", id).Msg("failed to fetch artifacts")
	}

	var indented bytes.Buffer

	if err := json.Indent(&indented, artifacts, "", "  "); err != nil {
		indented.Write(artifacts)
	}

	fmt.Println(indented.String())

	if status != http.StatusOK {
		os.Exit(1)
	}
}

func readSources(paths []string, entrypoint string) (*routing.CompileRequest, error) {
	request := &routing.CompileRequest{
		Sources:    map[string]routing.SourceUnit{},
		Entrypoint: entrypoint,
	}

	for _, path := range paths {
		content, err := os.ReadFile(path)

		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}

		request.Sources[filepath.Base(path)] = routing.SourceUnit{Content: string(content)}
	}

	return request, nil
}

func submit(ctx context.Context, server string, request *routing.CompileRequest) (string, error) {
	body, err := json.Marshal(request)

	if err != nil {
		return "", errors.Wrap(err, "failed to encode request")
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/compile", bytes.NewReader(body))

	if err != nil {
		return "", err
	}

	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := http.DefaultClient.Do(httpRequest)

	if err != nil {
		return "", err
	}

	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)

	if err != nil {
		return "", err
	}

	if response.StatusCode != http.StatusOK {
		return "", errors.Errorf("compile request rejected with %d: %s", response.StatusCode, strings.TrimSpace(string(data)))
	}

	var id string
	return id, errors.Wrap(json.Unmarshal(data, &id), "failed to decode compilation id")
}

func poll(ctx context.Context, server string, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, code, err := get(ctx, server+"/status/"+id)

		if err != nil {
			return err
		}

		if code != http.StatusOK {
			return errors.Errorf("status request failed with %d: %s", code, status)
		}

		if string(status) != "PENDING" {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func follow(ctx context.Context, server string, id string) error {
	address, err := url.Parse(server)

	if err != nil {
		return errors.Wrap(err, "invalid server address")
	}

	address.Scheme = strings.Replace(address.Scheme, "http", "ws", 1)
	address.Path = "/ws/" + id

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, address.String(), nil)

	if err != nil {
		return errors.Wrap(err, "failed to open websocket")
	}

	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var message routing.CompletionMessage

	if err := conn.ReadJSON(&message); err != nil {
		return errors.Wrap(err, "failed to read completion message")
	}

	log.Info().Str("id", message.ID).Str("status", message.Status).Msg("compilation finished")
	return nil
}

func get(ctx context.Context, address string) ([]byte, int, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)

	if err != nil {
		return nil, 0, err
	}

	response, err := http.DefaultClient.Do(request)

	if err != nil {
		return nil, 0, err
	}

	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	return data, response.StatusCode, err
}
