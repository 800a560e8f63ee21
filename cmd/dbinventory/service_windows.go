package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dbinventory/internal/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

const (
	serviceName        = "dbinventory"
	serviceDisplayName = "dbinventory Account Inventory"
	serviceDescription = "Collects database accounts and privileges and classifies them by risk"
)

// inventoryService runs the server under the Service Control Manager.
type inventoryService struct{}

func (s *inventoryService) Execute(args []string, changeReq <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown
	status <- svc.Status{State: svc.StartPending}

	// .env and the SQLite file are resolved relative to the executable
	if exePath, err := os.Executable(); err == nil {
		os.Chdir(filepath.Dir(exePath))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx) }()

	status <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}
	for {
		select {
		case err := <-done:
			cancel()
			if err != nil {
				logger.Error().Err(err).Msg("server exited")
				return false, 1
			}
			return false, 0
		case c := <-changeReq:
			switch c.Cmd {
			case svc.Interrogate:
				status <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(45 * time.Second):
				}
				return false, 0
			}
		}
	}
}

func isRunningAsService() bool {
	isService, err := svc.IsWindowsService()
	return err == nil && isService
}

func runAsService() {
	if err := svc.Run(serviceName, &inventoryService{}); err != nil {
		fmt.Printf("Failed to run as service: %v\n", err)
		os.Exit(1)
	}
}

func withManager(fn func(m *mgr.Mgr) error) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager (run as Administrator): %w", err)
	}
	defer m.Disconnect()
	return fn(m)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the Windows service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Register dbinventory as an automatic Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		exePath, err := os.Executable()
		if err != nil {
			return err
		}
		return withManager(func(m *mgr.Mgr) error {
			if s, err := m.OpenService(serviceName); err == nil {
				s.Close()
				fmt.Printf("Service '%s' is already installed.\n", serviceName)
				return nil
			}
			s, err := m.CreateService(serviceName, exePath, mgr.Config{
				DisplayName: serviceDisplayName,
				Description: serviceDescription,
				StartType:   mgr.StartAutomatic,
			})
			if err != nil {
				return fmt.Errorf("failed to install service: %w", err)
			}
			defer s.Close()
			fmt.Printf("Service '%s' installed. Start with: dbinventory service start\n", serviceName)
			return nil
		})
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(m *mgr.Mgr) error {
			s, err := m.OpenService(serviceName)
			if err != nil {
				fmt.Printf("Service '%s' is not installed.\n", serviceName)
				return nil
			}
			defer s.Close()
			if err := s.Delete(); err != nil {
				return fmt.Errorf("failed to uninstall service: %w", err)
			}
			fmt.Printf("Service '%s' uninstalled.\n", serviceName)
			return nil
		})
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(m *mgr.Mgr) error {
			s, err := m.OpenService(serviceName)
			if err != nil {
				return fmt.Errorf("service '%s' is not installed; run 'dbinventory service install' first", serviceName)
			}
			defer s.Close()
			if err := s.Start(); err != nil {
				return fmt.Errorf("failed to start service: %w", err)
			}
			fmt.Printf("Service '%s' started.\n", serviceName)
			return nil
		})
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(m *mgr.Mgr) error {
			s, err := m.OpenService(serviceName)
			if err != nil {
				return fmt.Errorf("service '%s' is not installed", serviceName)
			}
			defer s.Close()
			if _, err := s.Control(svc.Stop); err != nil {
				return fmt.Errorf("failed to stop service: %w", err)
			}
			fmt.Printf("Service '%s' stopping.\n", serviceName)
			return nil
		})
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd, serviceUninstallCmd, serviceStartCmd, serviceStopCmd)
	rootCmd.AddCommand(serviceCmd)
}
