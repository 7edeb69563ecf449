// Command voiceloop runs the voice pipeline against a configured backend:
// microphone capture, voice activity detection, streaming recognition, and
// streaming synthesis with barge-in.
package main

import (
	"bufio"
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearsay-ai/voiceloop/pkg/asr"
	"github.com/hearsay-ai/voiceloop/pkg/audio"
	paudio "github.com/hearsay-ai/voiceloop/pkg/audio/portaudio"
	"github.com/hearsay-ai/voiceloop/pkg/audio/wav"
	"github.com/hearsay-ai/voiceloop/pkg/config"
	"github.com/hearsay-ai/voiceloop/pkg/plugin"
	_ "github.com/hearsay-ai/voiceloop/pkg/plugin/silero"
	"github.com/hearsay-ai/voiceloop/pkg/session"
	"github.com/hearsay-ai/voiceloop/pkg/tts"
	"github.com/hearsay-ai/voiceloop/pkg/vad"
	"github.com/hearsay-ai/voiceloop/pkg/version"
)

var (
	configPath  string
	recordPath  string
	metricsAddr string
	pluginDir   string
)

var rootCmd = &cobra.Command{
	Use:          "voiceloop",
	Short:        "Real-time voice pipeline: capture, VAD, recognition, synthesis",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := paudio.ListDevices()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the voice session",
	Long: `Run the voice session against the configured recognition and synthesis
endpoints. Transcripts print to stdout. Lines typed on stdin are spoken
through the synthesis channel; "/mute" toggles the microphone and "/quit"
exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context())
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage detector plugins",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%-8s %-12s %-10s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		for _, kind := range plugin.ListKinds() {
			for _, p := range plugin.List(kind) {
				ver := p.Version
				if ver == "" {
					ver = "-"
				}
				fmt.Printf("%-8s %-12s %-10s %s\n", p.Kind, p.Name, ver, p.Description)
			}
		}
	},
}

var pluginDownloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download model files for plugins that need them",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, kind := range plugin.ListKinds() {
			for _, p := range plugin.List(kind) {
				if p.Downloader == nil {
					continue
				}
				fmt.Printf("downloading files for %s/%s...\n", p.Kind, p.Name)
				if err := p.Downloader.Download(); err != nil {
					return fmt.Errorf("download %s/%s: %w", p.Kind, p.Name, err)
				}
			}
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "voiceloop.yaml", "path to the configuration file")
	runCmd.Flags().StringVar(&recordPath, "record", "", "record captured audio to a WAV file")
	runCmd.Flags().StringVar(&metricsAddr, "expvar", "", "serve expvar metrics on this address (e.g. :9090)")
	runCmd.Flags().StringVar(&pluginDir, "plugins", "", "load external detector plugins (.so) from this directory")

	pluginCmd.AddCommand(pluginListCmd, pluginDownloadCmd)
	rootCmd.AddCommand(versionCmd, devicesCmd, runCmd, pluginCmd)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level.SlogLevel()}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func runSession(ctx context.Context) error {
	// External detectors must be registered before the config loads, since
	// validation resolves vad.provider against the registry.
	if pluginDir != "" {
		n, err := plugin.LoadExternal(pluginDir, slog.Default())
		if err != nil {
			return fmt.Errorf("load plugins: %w", err)
		}
		slog.Info("external plugins loaded", slog.Int("count", n), slog.String("dir", pluginDir))
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	asrCfg, err := cfg.RecognitionChannelConfig()
	if err != nil {
		return err
	}
	synCfg := cfg.SynthesisChannelConfig()

	provider, ok := plugin.Lookup("vad", cfg.VADProvider())
	if !ok {
		return fmt.Errorf("vad provider %q is not registered", cfg.VADProvider())
	}
	detectorOpts := cfg.VAD.Options()

	out := paudio.NewOutput(audio.PlaybackSampleRate)
	defer out.Stop()

	sess, err := session.New(session.Config{
		NewCapture: func() (session.Capture, error) {
			return newCapture(logger)
		},
		NewRecognizer: func() (asr.Recognizer, error) {
			return asr.NewChannel(asrCfg, logger)
		},
		NewSynthesizer: func() (tts.Synthesizer, error) {
			return tts.NewChannel(synCfg, out, logger)
		},
		NewDetector: func() vad.Detector {
			return newDetector(provider, detectorOpts, logger)
		},
		MuteSuspendsVAD: cfg.Session.MuteSuspendsVAD,
		TapDepth:        cfg.Session.TapDepth,
		OnTranscript: func(ev asr.TranscriptEvent) {
			switch ev.Kind {
			case asr.KindPartial:
				fmt.Printf("\r... %s", ev.Text)
			case asr.KindFinal:
				fmt.Printf("\r>>> %s\n", ev.Text)
			}
		},
		OnStateChange: func(from, to session.State) {
			logger.Debug("session state", slog.String("from", from.String()), slog.String("to", to.String()))
		},
		OnError: func(err error) {
			logger.Warn("session fault", slog.String("error", err.Error()))
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if metricsAddr != "" {
		serveMetrics(metricsAddr, sess, logger)
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = sess.Start(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logger.Info("session started, listening", slog.String("vad", cfg.VADProvider()))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go readCommands(ctx, sess, stop, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return sess.Stop()
}

// newCapture opens the default microphone and wraps it in the canonical
// format converter, optionally teeing frames into a WAV recording.
func newCapture(logger *slog.Logger) (session.Capture, error) {
	dev, err := paudio.OpenDefaultCapture(0)
	if err != nil {
		return nil, err
	}
	conv := audio.NewCaptureConverter(dev, audio.CaptureConfig{}, logger)

	if recordPath != "" {
		w, err := wav.NewCanonicalWriter(recordPath)
		if err != nil {
			dev.Stop()
			return nil, fmt.Errorf("open recording: %w", err)
		}
		tap := conv.AddTap("record", 128)
		go func() {
			defer w.Close()
			for frame := range tap.Frames() {
				if err := w.WriteFrame(frame); err != nil {
					logger.Warn("recording write failed", slog.String("error", err.Error()))
					return
				}
			}
		}()
	}
	return conv, nil
}

// newDetector builds the configured detector, falling back to the energy
// detector when the provider cannot be constructed (for example a model
// file that has not been downloaded yet).
func newDetector(p *plugin.Plugin, opts map[string]any, logger *slog.Logger) vad.Detector {
	v, err := p.Factory(opts)
	if err == nil {
		if det, ok := v.(vad.Detector); ok {
			return det
		}
		err = fmt.Errorf("plugin %s/%s does not implement a voice detector", p.Kind, p.Name)
	}
	logger.Warn("detector unavailable, falling back to energy",
		slog.String("provider", p.Name), slog.String("error", err.Error()))
	return vad.NewEnergyDetector(vad.Config{})
}

func serveMetrics(addr string, sess *session.Session, logger *slog.Logger) {
	m := sess.Metrics()
	expvar.Publish("session_state_transitions", m.StateTransitions)
	expvar.Publish("session_invalid_transitions", m.InvalidTransitions)
	expvar.Publish("session_utterances", m.Utterances)
	expvar.Publish("session_interruptions", m.Interruptions)

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	go func() {
		logger.Info("metrics listening", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

// readCommands drives the session from stdin: plain lines are synthesized,
// "/mute" toggles the microphone, "/quit" ends the run.
func readCommands(ctx context.Context, sess *session.Session, quit func(), logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			quit()
			return
		case line == "/mute":
			muted, err := sess.ToggleMute(ctx)
			if err != nil {
				logger.Warn("mute failed", slog.String("error", err.Error()))
				continue
			}
			fmt.Printf("microphone %s\n", map[bool]string{true: "muted", false: "live"}[muted])
		default:
			handle, err := sess.Speak(ctx, line, "")
			if err != nil {
				logger.Warn("speak rejected", slog.String("error", err.Error()))
				continue
			}
			go func() {
				<-handle.Done()
				if err := handle.Err(); err != nil {
					logger.Debug("playback ended early", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
