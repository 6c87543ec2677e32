// Rover - vision-guided ball chaser.
//
// Captures frames, runs YOLO detection, and drives the wheels toward
// the ball. Serves a monitoring dashboard over HTTP/websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/camera"
	"github.com/teslashibe/go-rover/pkg/motion"
	"github.com/teslashibe/go-rover/pkg/rover"
	"github.com/teslashibe/go-rover/pkg/vision"
	"github.com/teslashibe/go-rover/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (defaults used when empty)")
	device := flag.Int("camera", 0, "Camera device index")
	model := flag.String("model", "", "Path to ONNX detection model (overrides config)")
	listen := flag.String("listen", "", "Monitoring listen address (overrides config)")
	dev := flag.Bool("dev", false, "Dev mode: slower pacing for bench testing")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	log.Init(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("config load failed", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Web.Listen = *listen
	}
	if *model != "" {
		cfg.Vision.ModelPath = *model
	}

	fmt.Println("🤖 Rover Ball Chaser")
	fmt.Printf("   Camera: /dev/video%d\n", *device)
	fmt.Printf("   Model:  %s\n", cfg.Vision.ModelPath)
	fmt.Printf("   Dev:    %v\n", *dev)
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := camera.OpenWebcam(*device, cfg.Vision.FrameWidth, cfg.Vision.FrameHeight)
	if err != nil {
		log.Error("camera open failed", "device", *device, "err", err)
		os.Exit(1)
	}

	detector, err := vision.NewYOLO(vision.YOLOConfig{
		ModelPath:        cfg.Vision.ModelPath,
		ConfidenceThresh: cfg.Vision.Confidence,
		NMSThresh:        cfg.Vision.NMS,
		InputSize:        cfg.Vision.InputSize,
		TargetLabel:      cfg.Vision.TargetLabel,
	})
	if err != nil {
		log.Error("detector load failed", "model", cfg.Vision.ModelPath, "err", err)
		source.Close()
		os.Exit(1)
	}

	driver, err := motion.NewPeriphDriver()
	if err != nil {
		log.Error("gpio init failed", "err", err)
		detector.Close()
		source.Close()
		os.Exit(1)
	}

	actuator := motion.NewActuator(driver, cfg)
	controller := rover.NewController(cfg, source, detector, actuator, *dev)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n👋 Shutting down...")
		controller.EmergencyStop()
		cancel()
	}()

	if err := controller.Initialize(ctx); err != nil {
		log.Error("initialization failed", "err", err)
		os.Exit(1)
	}

	server := web.NewServer(cfg, controller)
	server.StartAsync(ctx, controller.Pipeline())

	err = controller.Run(ctx)
	fatal := err != nil && !errors.Is(err, context.Canceled)
	if fatal {
		log.Error("control loop ended", "err", err)
	}

	if err := server.Shutdown(); err != nil {
		log.Warn("monitoring server shutdown", "err", err)
	}
	if err := controller.Cleanup(); err != nil {
		log.Error("final cleanup failed", "err", err)
		os.Exit(1)
	}
	if fatal {
		os.Exit(1)
	}

	fmt.Println("👋 Goodbye!")
}
