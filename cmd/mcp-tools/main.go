package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/viant/afs"
	mcptools "github.com/viant/mcp-tools"
)

// Options defines command line options for the mcp-tools CLI.
type Options struct {
	ConfigURL string `short:"f" long:"config" description:"servers config URL (json object of name to server config)" required:"true"`
	Call      string `short:"c" long:"call" description:"tool to invoke instead of listing"`
	Args      string `short:"a" long:"args" description:"tool arguments as JSON object"`
	Verbose   bool   `short:"v" long:"verbose" description:"enable debug logging"`
}

func main() {
	if err := Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func Run(args []string) error {
	options := &Options{}
	if _, err := flags.ParseArgs(options, args); err != nil {
		return err
	}
	level := slog.LevelInfo
	if options.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, options.ConfigURL)
	if err != nil {
		return fmt.Errorf("failed to load config %v: %w", options.ConfigURL, err)
	}
	configs, err := mcptools.ParseConfigs(data)
	if err != nil {
		return err
	}

	tools, cleanup, err := mcptools.ConvertTools(ctx, configs, mcptools.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	if options.Call == "" {
		return listTools(tools)
	}
	return callTool(ctx, tools, options.Call, options.Args)
}

func listTools(tools []*mcptools.Tool) error {
	for _, tool := range tools {
		schemaData, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return err
		}
		fmt.Printf("%v/%v\t%v\n\t%s\n", tool.Server, tool.Name, tool.Description, schemaData)
	}
	return nil
}

func callTool(ctx context.Context, tools []*mcptools.Tool, name, rawArgs string) error {
	arguments := map[string]interface{}{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
			return fmt.Errorf("invalid tool arguments %q: %w", rawArgs, err)
		}
	}
	for _, tool := range tools {
		if tool.Name != name {
			continue
		}
		result, err := tool.Call(ctx, arguments)
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	}
	return fmt.Errorf("tool %q not found", name)
}
