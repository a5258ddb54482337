package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/app/worker"
	"rias-agent-golang/internal/domain/agent"
	log "rias-agent-golang/logger"
)

func main() {
	configFile := flag.String("c", "config/config.yaml", "config file path")
	flag.Parse()

	if *configFile == "" {
		fmt.Println("config file path is empty")
		return
	}

	if err := Init(*configFile); err != nil {
		return
	}

	mode := worker.ModeFromEnv()
	log.Infof("starting agent %s in %s mode", constants.AgentName, mode)

	persona, err := agent.NewPersona(os.Getenv(constants.EnvToolAPIKey))
	if err != nil {
		log.Errorf("persona init failed: %v, set %s", err, constants.EnvToolAPIKey)
		os.Exit(1)
	}

	opts := worker.Options{
		AgentName:      constants.AgentName,
		EntrypointFunc: entrypoint(mode, persona),
	}
	if mode == worker.ModeAudio {
		opts.PrewarmFunc = prewarm
	}

	w, err := worker.NewWorker(opts)
	if err != nil {
		log.Errorf("create worker failed: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runDone:
		cancel()
		if err != nil {
			log.Errorf("worker stopped: %v", err)
			os.Exit(1)
		}
	case <-quit:
		log.Info("shutting down worker...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		w.Shutdown(shutdownCtx)
		shutdownCancel()
		cancel()
		<-runDone
		log.Info("worker stopped")
	}
}

// entrypoint serves one job: a fresh session per room, sharing only
// the read-only persona and prewarmed process resources.
func entrypoint(mode worker.Mode, persona *agent.Persona) worker.EntrypointFunc {
	return func(job *worker.JobContext) error {
		session := worker.NewAgentSession(job.ID, mode, persona, pipelineConfig())
		if err := session.Start(job.Ctx, job); err != nil {
			return err
		}
		select {
		case <-job.Ctx.Done():
		case <-job.Room.Done():
		}
		session.Close()
		return nil
	}
}
