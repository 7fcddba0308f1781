package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/signaltrader/internal/api"
	"github.com/betbot/signaltrader/internal/dashboard"
	"github.com/betbot/signaltrader/internal/ports"
	"github.com/betbot/signaltrader/pkg/logger"
	"github.com/betbot/signaltrader/pkg/shutdown"
	"github.com/betbot/signaltrader/pkg/syncgroup"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	var tui bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "启动交易引擎与信号 API，直到收到退出信号",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts, tui)
		},
	}
	cmd.Flags().BoolVar(&tui, "tui", false, "在终端显示实时仪表盘（日志只写文件）")
	return cmd
}

func runDaemon(parent context.Context, opts *rootOptions, tui bool) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg, tui); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Close()
	stopRotation := make(chan struct{})
	defer close(stopRotation)
	logger.StartRotationChecker(stopRotation)

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var dash *dashboard.Dashboard
	var extra []ports.EventSink
	if tui {
		dash = dashboard.New(fmt.Sprintf("signaltrader %s %s-%s", cfg.Exchange, cfg.Currency, cfg.Asset))
		extra = append(extra, dash)
	}

	a, err := newApp(ctx, cfg, extra...)
	if err != nil {
		return err
	}
	log.Infof("交易对 %s @ %s 就绪 (dry_run=%v loss_avoidant=%v)", a.pair, cfg.Exchange, cfg.DryRun, cfg.LossAvoidant)

	group := syncgroup.New()
	group.Add("engine", func(ctx context.Context) error {
		a.engine.Run(ctx)
		return nil
	})

	var srv *api.Server
	if cfg.API.Listen != "" {
		srv = api.New(api.Config{
			Listen:       cfg.API.Listen,
			Token:        cfg.API.Token,
			DedupeWindow: cfg.API.DedupeWindow,
			Breaker:      a.breaker,
		}, a.engine)
		group.Add("api", func(ctx context.Context) error {
			errCh := srv.Start()
			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				return nil
			}
		})
	}
	if dash != nil {
		group.Add("dashboard", func(ctx context.Context) error {
			return dash.Run(ctx, a.engine, time.Second, group.Stop)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx := group.Start(ctx)
	select {
	case sig := <-sigCh:
		log.Infof("收到信号 %v，开始退出", sig)
	case <-runCtx.Done():
		if err := group.Err(); err != nil {
			log.Errorf("后台任务退出: %v", err)
		}
	}

	// 先停止接收信号，再等待在途生命周期，最后关闭存储
	mgr := shutdown.NewManager()
	if srv != nil {
		mgr.OnShutdown(shutdown.Handler{Name: "api", Fn: srv.Shutdown})
	}
	mgr.OnShutdown(shutdown.Handler{Name: "engine", Fn: func(ctx context.Context) error {
		group.Stop()
		done := make(chan struct{})
		go func() {
			a.engine.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("等待在途订单超时: %w", ctx.Err())
		}
	}})
	mgr.OnShutdown(shutdown.Handler{Name: "journal", Fn: func(context.Context) error {
		return a.Close()
	}})

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	shutdownErr := mgr.Shutdown(sctx)
	cancel()

	if err := group.Wait(); err != nil {
		return err
	}
	return shutdownErr
}
