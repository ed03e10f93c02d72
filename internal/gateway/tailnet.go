// ABOUTME: Serves the gateway inside a tailnet through an embedded tsnet node
// ABOUTME: HTTP goes to :80, :443 with tailnet certs, or a public funnel; gRPC health only when configured

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/2389/campaign-gateway/internal/config"
)

// tailnetPlan is what the gateway listens on inside the tailnet
type tailnetPlan struct {
	httpPort string
	funnel   bool
	tls      bool
	grpcPort string // empty disables the gRPC health service
}

// planTailnet derives tailnet listeners from config. Hosts in server.*_addr
// have no meaning on the tailnet; only the gRPC port is reused.
func planTailnet(server config.ServerConfig, ts config.TailscaleConfig) (tailnetPlan, error) {
	plan := tailnetPlan{httpPort: ":80"}
	switch {
	case ts.Funnel:
		plan.httpPort, plan.funnel = ":443", true
	case ts.HTTPS:
		plan.httpPort, plan.tls = ":443", true
	}

	if server.GRPCAddr != "" {
		_, port, err := net.SplitHostPort(server.GRPCAddr)
		if err != nil || port == "" {
			return tailnetPlan{}, fmt.Errorf("server.grpc_addr %q has no usable port for the tailnet", server.GRPCAddr)
		}
		plan.grpcPort = ":" + port
	}
	return plan, nil
}

// tailnetStateDir returns where the node keeps its identity
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "campaign-gateway", "tailscale"), nil
}

// tailnetAuthKey prefers the configured key over TS_AUTHKEY
func tailnetAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if env := os.Getenv("TS_AUTHKEY"); env != "" {
		return env, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
}

// startTailnetNode brings a tsnet node up and logs its address
func (g *Gateway) startTailnetNode(ctx context.Context) (*tsnet.Server, error) {
	tc := g.config.Tailscale

	dir, err := tailnetStateDir(tc.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := tailnetAuthKey(tc.AuthKey)
	if err != nil {
		return nil, err
	}

	node := &tsnet.Server{
		Hostname:  tc.Hostname,
		Dir:       dir,
		Ephemeral: tc.Ephemeral,
		AuthKey:   authKey,
	}
	g.logger.Info("starting tailscale node", "hostname", tc.Hostname, "state_dir", dir, "ephemeral", tc.Ephemeral)

	status, err := node.Up(ctx)
	if err != nil {
		_ = node.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	attrs := []any{"hostname", tc.Hostname}
	if len(status.TailscaleIPs) > 0 {
		attrs = append(attrs, "tailscale_ip", status.TailscaleIPs[0].String())
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		attrs = append(attrs, "dns_name", status.Self.DNSName)
	}
	g.logger.Info("tailscale node ready", attrs...)
	return node, nil
}

// listenTailnet starts the tsnet node and opens the planned listeners.
// grpcLn is nil unless server.grpc_addr is set.
func (g *Gateway) listenTailnet(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	plan, err := planTailnet(g.config.Server, g.config.Tailscale)
	if err != nil {
		return nil, nil, err
	}
	if g.config.Server.HTTPAddr != "" {
		g.logger.Debug("server.http_addr is not used on the tailnet", "http_addr", g.config.Server.HTTPAddr)
	}

	node, err := g.startTailnetNode(ctx)
	if err != nil {
		return nil, nil, err
	}

	httpLn, err = g.tailnetHTTPListener(node, plan)
	if err != nil {
		_ = node.Close()
		return nil, nil, err
	}

	if plan.grpcPort != "" {
		grpcLn, err = node.Listen("tcp", plan.grpcPort)
		if err != nil {
			_ = httpLn.Close()
			_ = node.Close()
			return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
		}
	}

	g.tsnetServer = node
	return grpcLn, httpLn, nil
}

func (g *Gateway) tailnetHTTPListener(node *tsnet.Server, plan tailnetPlan) (net.Listener, error) {
	if plan.funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS)", "port", plan.httpPort)
		ln, err := node.ListenFunnel("tcp", plan.httpPort)
		if err != nil {
			return nil, fmt.Errorf("opening tailscale funnel: %w", err)
		}
		return ln, nil
	}

	ln, err := node.Listen("tcp", plan.httpPort)
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	if !plan.tls {
		return ln, nil
	}

	g.logger.Info("enabling HTTPS with tailnet certificates", "port", plan.httpPort)
	lc, err := node.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}
