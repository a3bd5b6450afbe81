package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"google.golang.org/grpc"

	"github.com/danielpatrickdp/lab-qlearner/internal/env"
	"github.com/danielpatrickdp/lab-qlearner/internal/env/remote"
)

// #region main
func main() {
	addr := flag.String("addr", envOr("LAB_LISTEN", "localhost:50061"), "listen address")
	seed := flag.Uint64("seed", 0, "sunshine drift seed (0 = random)")
	sunshine := flag.Int("sunshine", 2, "initial sunshine level 0..3")
	drift := flag.Float64("drift", envFloat("LAB_DRIFT", 0), "probability that sunshine moves after an action")
	flag.Parse()

	opts := []env.LabOption{env.WithSunshine(*sunshine), env.WithDrift(*drift)}
	if *seed != 0 {
		opts = append(opts, env.WithSeed(*seed))
	}
	lab := env.NewLab(opts...)

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *addr, err)
	}
	srv := grpc.NewServer()
	remote.Register(srv, lab)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("shutting down")
		srv.GracefulStop()
	}()

	log.Printf("lab simulator serving %s on %s (sunshine=%d drift=%.2f)", remote.ServiceName, lis.Addr(), *sunshine, *drift)
	if err := srv.Serve(lis); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
// #endregion main

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(envOr(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}
// #endregion helpers
