package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"sessionhub-core/internal/version"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

const bannerWidth = 56

var (
	bannerCyan  = color.New(color.FgCyan).SprintFunc()
	bannerBold  = color.New(color.Bold).SprintFunc()
	bannerFaint = color.New(color.Faint).SprintFunc()
	bannerGreen = color.New(color.FgGreen).SprintFunc()
)

// DisplayStartupBanner 显示启动信息横幅
// 非终端输出（重定向/容器日志）时关闭彩色
func (s *Server) DisplayStartupBanner(configPath string) {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}

	fmt.Println()
	fmt.Printf("  %s   %s\n", bannerCyan("SessionHub"), bannerFaint("realtime session recovery service"))
	fmt.Printf("  %s\n", bannerFaint("Version "+version.GetShortVersion()))
	fmt.Println()

	fmt.Println(bannerBold("  Server Information"))
	fmt.Println(bannerFaint("  " + strings.Repeat("─", bannerWidth)))

	fallback := "disabled"
	if s.config.Recovery.EnableTransportFallback {
		fallback = strings.Join(s.config.Recovery.FallbackTransports, ", ")
	}
	persistent := "none"
	if s.config.Postgres.DSN != "" {
		persistent = "postgres"
	}

	rows := []struct {
		label string
		value string
	}{
		{"Node ID", s.config.NodeID},
		{"Config File", configPath},
		{"Start Time", time.Now().Format("2006-01-02 15:04:05")},
		{"Listen", s.config.HTTP.Listen},
		{"Primary Store", "redis @ " + s.config.Redis.Addr},
		{"Fallback Store", persistent},
		{"Transport Fallback", fallback},
		{"Cleanup Interval", s.config.Recovery.CleanupInterval.String()},
	}
	for _, row := range rows {
		fmt.Printf("  %-20s %s\n", bannerBold(row.label+":"), row.value)
	}

	fmt.Println(bannerFaint("  " + strings.Repeat("─", bannerWidth)))
	fmt.Printf("  %s\n", bannerGreen("Ready"))
	fmt.Println()
}
