package banner

import (
	"fmt"

	"campuschat/pkg/config"
)

const banner = `
 ██████╗ █████╗ ███╗   ███╗██████╗ ██╗   ██╗███████╗ ██████╗██╗  ██╗ █████╗ ████████╗
██╔════╝██╔══██╗████╗ ████║██╔══██╗██║   ██║██╔════╝██╔════╝██║  ██║██╔══██╗╚══██╔══╝
██║     ███████║██╔████╔██║██████╔╝██║   ██║███████╗██║     ███████║███████║   ██║
██║     ██╔══██║██║╚██╔╝██║██╔═══╝ ██║   ██║╚════██║██║     ██╔══██║██╔══██║   ██║
╚██████╗██║  ██║██║ ╚═╝ ██║██║     ╚██████╔╝███████║╚██████╗██║  ██║██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝     ╚═╝╚═╝      ╚═════╝ ╚══════╝ ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner with the effective runtime settings and
// a few production-readiness checks.
func Print(cfg *config.Config, version, source string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("DB Path:  %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:   %s\n", source)
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/rooms' -H 'X-API-Key: <key>' -H 'X-User-ID: u1' \\")
	fmt.Println("  -d '{\"name\":\"study group\",\"participants\":[\"u2\",\"u3\"]}'")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/rooms/<roomID>/messages' -H 'X-API-Key: <key>' -H 'X-User-ID: u1' \\")
	fmt.Println("  -d '{\"content\":\"hello\"}'")
	fmt.Println("websocat 'ws://<host>:<port>/v1/ws?api_key=<key>&user_id=u1'")

	fmt.Println("\n== Production? =================================================")
	if n := len(cfg.Security.APIKeys.Backend); n > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if n := len(cfg.Security.APIKeys.Frontend); n > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if cfg.Sweeper.Enabled {
		cron := cfg.Sweeper.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
		fmt.Printf("- Sweeper: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Sweeper: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}
