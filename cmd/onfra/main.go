package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rucachi/onfra/internal/app"
	"github.com/rucachi/onfra/internal/server"
	"github.com/rucachi/onfra/internal/store"
	"github.com/rucachi/onfra/internal/tray"
)

func main() {
	cameraID := flag.Int("camera", 0, "camera device index")
	width := flag.Int("width", 640, "requested capture width")
	height := flag.Int("height", 480, "requested capture height")
	fps := flag.Float64("fps", 30, "requested capture frame rate")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "", "database path (default ~/.onfra/onfra.db)")
	templates := flag.String("templates", "", "comma-separated template names to track")
	useTray := flag.Bool("tray", false, "show the system tray menu")
	flag.Parse()

	fmt.Println("Onfra - Real-time Template Tracking")

	path := *dbPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}

		dataDir := filepath.Join(homeDir, ".onfra")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
		path = filepath.Join(dataDir, "onfra.db")
	}

	st, err := store.New(path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()

	application := app.New(app.Config{
		Store:    st,
		CameraID: *cameraID,
		Width:    *width,
		Height:   *height,
		FPS:      *fps,
	})
	defer application.Close()

	if *templates != "" {
		names := strings.Split(*templates, ",")
		for i := range names {
			names[i] = strings.TrimSpace(names[i])
		}
		application.SetTemplates(names)
	}

	if err := application.Start(); err != nil {
		log.Fatalf("Failed to start tracking session: %v", err)
	}
	defer application.Stop()

	srv := server.New(server.Config{
		StaticDir: findWebDir(),
		App:       application,
	})

	if *useTray {
		go serve(srv, *addr)
		runTray(application)
		return
	}

	serve(srv, *addr)
}

// serve runs the HTTP server until it fails.
func serve(srv *server.Server, addr string) {
	fmt.Printf("Starting server on %s\n", addr)
	if err := srv.ListenAndServe(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// runTray blocks on the system tray event loop.
func runTray(application *app.App) {
	t := tray.New()
	t.OnToggle(application.SetEnabled)
	t.OnReacquire(application.ForceReacquireAll)
	t.OnQuit(func() {
		application.Stop()
	})
	t.Run()
}

// findWebDir searches for the web directory in common locations.
// It checks "web", "../web", "../../web", and ~/.onfra/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".onfra", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
