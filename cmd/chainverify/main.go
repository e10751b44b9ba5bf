package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/davidahmann/chainverify/core/telemetry"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

const (
	exitOK              = 0
	exitNotPass         = 1
	exitInvalidInput    = 2
	exitInternalFailure = 3
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) (exitCode int) {
	correlationID := newCorrelationID(arguments)
	setCurrentCorrelationID(correlationID)
	defer setCurrentCorrelationID("")

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, "chainverify")
	if err != nil {
		log.Printf("telemetry setup: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("telemetry shutdown: %v", err)
		}
	}()

	ctx, span := telemetry.Tracer("cli").Start(ctx, "chainverify")
	span.SetAttributes(attribute.String("chainverify.correlation_id", correlationID))
	defer func() {
		if recovered := recover(); recovered != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", recovered)
			exitCode = exitInternalFailure
		}
		span.SetAttributes(attribute.Int("chainverify.exit_code", exitCode))
		span.End()
	}()

	return runDispatch(ctx, arguments)
}

func runDispatch(ctx context.Context, arguments []string) int {
	if len(arguments) < 2 {
		printUsage(os.Stderr)
		return exitInvalidInput
	}
	switch arguments[1] {
	case "--version", "version":
		fmt.Println("chainverify", version)
		return exitOK
	}
	return runVerify(ctx, arguments[1:])
}
