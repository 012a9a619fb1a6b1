package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/tatty/internal/config"
	"github.com/nextlevelbuilder/tatty/internal/tools"
)

// Pool owns the client connections to the configured MCP servers and the
// bridge tools minted from them. A server that fails to connect is logged
// and skipped; its tools simply do not appear in the registry.
type Pool struct {
	servers []config.MCPServer
	conns   []*serverConn
}

type serverConn struct {
	name      string
	client    *mcpclient.Client
	connected atomic.Bool
}

func NewPool(servers []config.MCPServer) *Pool {
	return &Pool{servers: servers}
}

// Connect dials every configured server, lists its tools, and registers a
// bridge for each under the "{server}__{tool}" name.
func (p *Pool) Connect(ctx context.Context, registry *tools.Registry) {
	for _, srv := range p.servers {
		conn, mcpTools, err := p.dial(ctx, srv)
		if err != nil {
			slog.Warn("mcp server unavailable", "server", srv.Name, "error", err)
			continue
		}
		p.conns = append(p.conns, conn)
		for _, mt := range mcpTools {
			registry.Register(NewBridgeTool(srv.Name, mt, conn.client, srv.Name, 0, &conn.connected))
		}
		slog.Info("mcp server connected", "server", srv.Name, "tools", len(mcpTools))
	}
}

func (p *Pool) dial(ctx context.Context, srv config.MCPServer) (*serverConn, []mcpgo.Tool, error) {
	var (
		client *mcpclient.Client
		err    error
	)
	switch srv.Transport {
	case "", "stdio":
		if srv.Command == "" {
			return nil, nil, fmt.Errorf("stdio server %q has no command", srv.Name)
		}
		client, err = mcpclient.NewStdioMCPClient(srv.Command, os.Environ(), srv.Args...)
		if err != nil {
			return nil, nil, fmt.Errorf("start %s: %w", srv.Command, err)
		}
	case "sse":
		if srv.URL == "" {
			return nil, nil, fmt.Errorf("sse server %q has no url", srv.Name)
		}
		client, err = mcpclient.NewSSEMCPClient(srv.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("sse client: %w", err)
		}
		if err := client.Start(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("sse connect: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", srv.Transport)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "tatty", Version: "1.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}

	conn := &serverConn{name: srv.Name, client: client}
	conn.connected.Store(true)
	return conn, listed.Tools, nil
}

// Close disconnects every server.
func (p *Pool) Close() {
	for _, conn := range p.conns {
		conn.connected.Store(false)
		if err := conn.client.Close(); err != nil {
			slog.Debug("mcp close", "server", conn.name, "error", err)
		}
	}
}
