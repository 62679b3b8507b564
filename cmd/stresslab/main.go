package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 初始化並執行 CLI 命令
// 3. 處理頂層錯誤與 panic recovery
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/stress-lab/internal/cli"
)

/*
# 開發階段
go run ./cmd/stresslab run

# 編譯
go build -o bin/stresslab ./cmd/stresslab

# 執行
./bin/stresslab run -c configs/default.yaml
./bin/stresslab timer --minutes 1 --title "Respiración"
./bin/stresslab status --addr localhost:50051
*/

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "嚴重錯誤: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
