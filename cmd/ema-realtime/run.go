package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	orchestration "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/core/audio/miniaudio"
	"github.com/koscakluka/ema-realtime/core/audio/portaudio"
	"github.com/koscakluka/ema-realtime/core/transport/websocket"
	"github.com/koscakluka/ema-realtime/internal/config"
	"github.com/spf13/cobra"
)

const portaudioBufferSize = 960

type audioDevice interface {
	orchestration.AudioInput
	orchestration.AudioOutput
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		backend string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a voice session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if backend != "" {
				cfg.AudioBackend = backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			opts := []orchestration.OrchestratorOption{
				orchestration.WithConfig(ptr(cfg.Session())),
				orchestration.WithDialer(websocket.Dialer(websocket.Options{})),
			}

			if logFile != "" {
				file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer file.Close()
				opts = append(opts, orchestration.WithLogger(slog.New(slog.NewJSONHandler(file, nil))))
			}

			device, err := openAudioDevice(cfg.AudioBackend)
			if err != nil {
				return err
			}
			if device != nil {
				defer device.Close()
				opts = append(opts,
					orchestration.WithAudioInput(device),
					orchestration.WithAudioOutput(device),
				)
			}

			orchestrator := orchestration.NewOrchestrator(opts...)
			defer orchestrator.Close()

			return runSession(cmd.Context(), orchestrator)
		},
	}
	cmd.Flags().StringVar(&backend, "audio", "", "audio backend: miniaudio, portaudio or none (overrides the config)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write JSON logs to this file")
	return cmd
}

func openAudioDevice(backend string) (audioDevice, error) {
	switch backend {
	case config.BackendMiniaudio:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendPortaudio:
		client, err := portaudio.NewClient(portaudioBufferSize)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, nil
	}
}

func runSession(ctx context.Context, orchestrator *orchestration.Orchestrator) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var program *tea.Program
	volume := &volumeMeter{}
	send := func(msg tea.Msg) {
		if program != nil {
			program.Send(msg)
		}
	}

	connect := func(ctx context.Context) error {
		return orchestrator.Connect(ctx,
			orchestration.WithStateChangedCallback(func(state orchestration.State) { send(stateMsg(state)) }),
			orchestration.WithMessagesCallback(func(messages orchestration.Messages) { send(messagesMsg(messages)) }),
			orchestration.WithErrorCallback(func(err error) { send(errMsg{err: err}) }),
			orchestration.WithVolumeCallback(volume.Store),
		)
	}

	model := newSessionModel(ctx, orchestrator, connect, volume)
	program = tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func ptr[T any](v T) *T { return &v }
