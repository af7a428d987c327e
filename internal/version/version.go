// Package version 提供构建版本信息
package version

import "fmt"

var (
	// Version 版本号，构建时通过 -ldflags 注入
	Version = "dev"

	// BuildTime 构建时间，通过 -ldflags 注入
	BuildTime = ""

	// GitCommit Git 提交哈希，通过 -ldflags 注入
	GitCommit = ""
)

// GetVersion 获取完整版本信息
func GetVersion() string {
	v := Version
	if GitCommit != "" {
		v = fmt.Sprintf("%s (%s)", v, GitCommit)
	}
	return v
}

// GetShortVersion 获取短版本号
func GetShortVersion() string {
	return Version
}
