package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tradeflow/internal/runtime"
)

type instrumentStatus struct {
	Instrument string             `json:"instrument"`
	State      runtime.State      `json:"state"`
	Positions  []runtime.Position `json:"positions"`
}

// serveStatus 暴露只读的状态与审计查询端点，随 ctx 取消而关闭。
func (o *orchestrator) serveStatus(ctx context.Context, port int) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]instrumentStatus, 0, len(o.pipelines))
		for _, p := range o.pipelines {
			statuses = append(statuses, instrumentStatus{
				Instrument: p.instrument,
				State:      p.rt.State(),
				Positions:  p.rt.Positions(),
			})
		}
		payload := map[string]interface{}{
			"instruments": statuses,
			"streaks":     o.engine.StreakSnapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			o.logger.Warn("写入状态响应失败", zap.Error(err))
		}
	})

	mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		limit := 200
		if qs := r.URL.Query().Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		entries := o.auditor.Entries()
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			o.logger.Warn("写入审计响应失败", zap.Error(err))
		}
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			o.logger.Warn("关闭状态服务失败", zap.Error(err))
		}
	}()

	o.logger.Info("状态服务已启动", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
