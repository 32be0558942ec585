package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/hako/durafmt"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/daemon"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type statusReport struct {
	Profile  string              `json:"profile"`
	PID      int                 `json:"pid,omitempty"`
	Uptime   string              `json:"uptime,omitempty"`
	Daemon   string              `json:"daemon"`
	Push     string              `json:"push"`
	Health   *api.HealthResponse `json:"health,omitempty"`
	APIError string              `json:"api_error,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and push channel status",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := profile()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		report := statusReport{Profile: name, Daemon: "NOT_RUNNING", Push: "UNKNOWN"}
		if owner, err := lock.ReadOwner(session.LockPath(name)); err == nil {
			report.PID = owner.PID
			if !owner.Since.IsZero() {
				report.Uptime = durafmt.Parse(time.Since(owner.Since).Truncate(time.Second)).LimitFirstN(2).String()
			}
		}

		conn, err := grpc.NewClient("unix://"+session.SocketPath(name), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial daemon: %w", err)
		}
		defer func() { _ = conn.Close() }()
		health := healthpb.NewHealthClient(conn)

		if resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{}); err == nil {
			report.Daemon = resp.GetStatus().String()
			if resp, err := health.Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.PushService}); err == nil {
				report.Push = resp.GetStatus().String()
			}
		}

		if c, err := apiClient(); err == nil {
			var h api.HealthResponse
			if err := c.get(ctx, "/healthz", nil, &h); err != nil {
				report.APIError = err.Error()
			} else {
				report.Health = &h
			}
		} else {
			report.APIError = err.Error()
		}

		if jsonOutput {
			return outputJSON(report)
		}
		fmt.Printf("Profile: %s\n", report.Profile)
		fmt.Printf("Daemon:  %s\n", report.Daemon)
		if report.PID != 0 {
			fmt.Printf("PID:     %d\n", report.PID)
		}
		if report.Uptime != "" {
			fmt.Printf("Uptime:  %s\n", report.Uptime)
		}
		fmt.Printf("Push:    %s\n", report.Push)
		if report.Health != nil {
			fmt.Printf("Self:    %s\n", report.Health.SelfID)
			fmt.Printf("Channel: %s\n", report.Health.Channel)
			fmt.Printf("Pending: %d\n", report.Health.PendingSends)
		} else if report.APIError != "" {
			fmt.Fprintf(os.Stderr, "api: %s\n", report.APIError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
