package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/poleval/poleval/internal/cache"
	"github.com/poleval/poleval/internal/config"
	"github.com/poleval/poleval/internal/document"
	"github.com/poleval/poleval/internal/eval"
	"github.com/poleval/poleval/internal/job"
	"github.com/poleval/poleval/internal/llm"
	"github.com/poleval/poleval/internal/model"
	"github.com/poleval/poleval/internal/ocr"
	"github.com/poleval/poleval/internal/repo"
	"github.com/poleval/poleval/internal/schedule"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "poleval",
		Short: "policy compliance evaluator",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	rootCmd.AddCommand(newEvalCmd(&configPath))
	rootCmd.AddCommand(newConvertCmd(&configPath))
	rootCmd.AddCommand(newHistoryCmd(&configPath))
	rootCmd.AddCommand(newCleanupCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
	return cfg, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := repo.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}

// env holds the wired pipeline for the eval and convert commands.
type env struct {
	cfg     *config.Config
	db      *sql.DB
	bucket  *ocr.Bucket
	service *eval.Service
}

func buildEnv(ctx context.Context, cfg *config.Config, db *sql.DB) (*env, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	bucket := ocr.NewBucket(s3.NewFromConfig(awsCfg), cfg.OCR.BucketPrefix, cfg.AWS.Region)
	bridge := ocr.NewBridge(
		textract.NewFromConfig(awsCfg),
		bucket,
		time.Duration(cfg.OCR.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.OCR.TimeoutSeconds)*time.Second,
	)

	providerArgs := cfg.Model.Data
	if providerArgs == nil {
		providerArgs = map[string]interface{}{"region": cfg.AWS.Region}
	}
	provider, err := llm.NewProvider(cfg.Model.Provider, providerArgs)
	if err != nil {
		return nil, fmt.Errorf("init model provider: %w", err)
	}
	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Model.MaxRetries

	template, err := eval.LoadPromptTemplate(cfg.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	service := eval.NewService(
		document.NewNormalizer(bridge, cfg.MaxCharsPerDoc),
		cache.New(cfg.CacheDir, cfg.Debug),
		llm.NewClient(provider, retry),
		template,
		repo.NewEvaluationRepo(db),
		eval.ServiceConfig{
			ModelID:        cfg.Model.ModelID,
			MaxTokensFloor: cfg.Model.MaxTokensFloor,
			ResponseFormat: cfg.ResponseFormat,
			Timeout:        time.Duration(cfg.Model.TimeoutSeconds) * time.Second,
			Debug:          cfg.Debug,
		},
	)
	return &env{cfg: cfg, db: db, bucket: bucket, service: service}, nil
}

func (e *env) close(ctx context.Context) {
	if err := e.bucket.Teardown(ctx); err != nil {
		logutil.GetLogger(ctx).Warn("ocr bucket teardown failed", zap.Error(err))
	}
	_ = e.db.Close()
}

func newEvalCmd(configPath *string) *cobra.Command {
	var policyPath string
	var submissionPaths []string
	var sessionID string
	var asJSON bool
	var debug bool

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "evaluate submission documents against a policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(submissionPaths) == 0 {
				return fmt.Errorf("--submission is required")
			}
			if policyPath == "" && sessionID == "" {
				return fmt.Errorf("--policy or --session is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if debug {
				cfg.Debug = true
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			e, err := buildEnv(ctx, cfg, db)
			if err != nil {
				_ = db.Close()
				return err
			}
			defer e.close(context.Background())

			identity := eval.NewSessionIdentity()
			if sessionID != "" {
				identity = eval.StaticIdentity(sessionID)
			}
			fmt.Printf("session: %s\n", identity.SessionID())

			policy, err := readDocument(policyPath)
			if err != nil {
				return err
			}
			failures := 0
			for _, path := range submissionPaths {
				submission, err := readDocument(path)
				if err != nil {
					return err
				}
				result, err := e.service.Evaluate(ctx, &eval.EvaluateInput{
					Identity:   identity,
					Policy:     policy,
					Submission: submission,
				})
				if err != nil {
					failures++
					fmt.Printf("\n=== %s ===\nevaluation failed: %v\n", filepath.Base(path), err)
					continue
				}
				// Later submissions reuse the cached policy.
				policy = nil
				if asJSON {
					printResultJSON(path, result)
				} else {
					printResult(path, result)
				}
				if result.Status != model.StatusGreen {
					failures++
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d submissions did not pass", failures, len(submissionPaths))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "policy document path")
	cmd.Flags().StringSliceVar(&submissionPaths, "submission", nil, "submission document path (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to reuse a cached policy")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolved result as JSON")
	cmd.Flags().BoolVar(&debug, "debug", false, "cache submission text and raw completions for inspection")
	return cmd
}

func newConvertCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <file>...",
		Short: "convert documents to markdown without evaluating",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			e, err := buildEnv(ctx, cfg, db)
			if err != nil {
				_ = db.Close()
				return err
			}
			defer e.close(context.Background())

			for _, path := range args {
				doc, err := readDocument(path)
				if err != nil {
					return err
				}
				normalized, err := e.service.Convert(ctx, doc)
				if err != nil {
					return fmt.Errorf("convert %s: %w", path, err)
				}
				if len(args) > 1 {
					fmt.Printf("=== %s (%s) ===\n", filepath.Base(path), normalized.Method)
				}
				fmt.Println(normalized.Text)
			}
			return nil
		},
	}
	return cmd
}

func newHistoryCmd(configPath *string) *cobra.Command {
	var sessionID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "list past evaluations for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			evals := repo.NewEvaluationRepo(db)
			records, err := evals.ListBySession(context.Background(), sessionID, limit, 0)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no evaluations found")
				return nil
			}
			for _, record := range records {
				fmt.Printf("%s  %-6s  %s (checks: %d, passed: %d, failed: %d, partial: %d)\n",
					time.Unix(record.Ctime, 0).Format(time.RFC3339),
					record.Status,
					record.SubmissionFile,
					record.TotalChecks, record.Passed, record.Failed, record.Partial,
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id")
	cmd.Flags().IntVar(&limit, "limit", 20, "max records to list")
	return cmd
}

func newCleanupCmd(configPath *string) *cobra.Command {
	var daemon bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "remove stale session caches and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			maxAge := time.Duration(cfg.Schedule.CacheMaxAgeHours) * time.Hour
			cleanup := job.NewCacheCleanupJob(
				cache.New(cfg.CacheDir, cfg.Debug),
				repo.NewEvaluationRepo(db),
				maxAge,
			)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !daemon {
				return cleanup.Run(ctx)
			}
			scheduler := schedule.NewCronScheduler()
			if err := scheduler.AddJob(cleanup, cfg.Schedule.CacheCleanupSpec); err != nil {
				return err
			}
			scheduler.Start(ctx)
			logutil.GetLogger(ctx).Info("cleanup daemon running", zap.String("spec", cfg.Schedule.CacheCleanupSpec))
			<-ctx.Done()
			scheduler.Stop()
			return nil
		},
	}
	cmd.Flags().BoolVar(&daemon, "daemon", false, "keep running and clean up on the configured schedule")
	return cmd
}

func readDocument(path string) (*model.Document, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &model.Document{Filename: filepath.Base(path), Data: data}, nil
}

func printResult(path string, result *model.EvaluationResult) {
	fmt.Printf("\n=== %s ===\n", filepath.Base(path))
	fmt.Printf("status: %s\n", result.Status)
	if result.Summary.Statement != "" {
		fmt.Printf("summary: %s\n", result.Summary.Statement)
	}
	if result.Explanation != "" {
		fmt.Printf("explanation: %s\n", result.Explanation)
	}
	if result.Summary.TotalChecks > 0 {
		fmt.Printf("checks: %d total, %d passed, %d failed", result.Summary.TotalChecks, result.Summary.Passed, result.Summary.Failed)
		if result.Summary.Partial > 0 {
			fmt.Printf(", %d partial", result.Summary.Partial)
		}
		fmt.Println()
	}
	for _, req := range result.Requirements {
		mark := "PASS"
		if req.PassStatus == model.PassStatusPartial {
			mark = "PARTIAL"
		} else if !req.Pass {
			mark = "FAIL"
		}
		fmt.Printf("  [%s] %s\n", mark, req.Requirement)
		if req.PolicyRequirement != "" {
			fmt.Printf("         required: %s\n", req.PolicyRequirement)
		}
		if req.SubmissionValue != "" {
			fmt.Printf("         provided: %s\n", req.SubmissionValue)
		}
		if req.Notes != "" {
			fmt.Printf("         notes: %s\n", req.Notes)
		}
	}
	for _, warning := range result.Warnings {
		fmt.Printf("warning (%s): %s\n", warning.Kind, warning.Message)
	}
}

func printResultJSON(path string, result *model.EvaluationResult) {
	payload := struct {
		Submission string                  `json:"submission"`
		Result     *model.EvaluationResult `json:"result"`
	}{Submission: filepath.Base(path), Result: result}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal result: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
