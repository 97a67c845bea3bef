// qimport 从目录读取三个问卷 CSV：默认只解析并打印结果，--apply 直接写库，--server 通过管理接口上传
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"questionnaire_backend/internal/config"
	"questionnaire_backend/internal/importer"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/service"
	"questionnaire_backend/pkg/database"
	"questionnaire_backend/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type importOptions struct {
	inputDir  string
	configDir string
	apply     bool
	server    string
	username  string
	password  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "qimport",
		Short:         "Questionnaire CSV import tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newImportCmd(), newApproveCmd())
	return root
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import questionnaires from a CSV directory (dry-run by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.inputDir, "input", "", "Directory containing questionnaires.csv, questions.csv and questionnaire_questions.csv (required)")
	cmd.Flags().StringVar(&opts.configDir, "config", "configs", "Config directory used with --apply")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Write to the database configured in --config")
	cmd.Flags().StringVar(&opts.server, "server", "", "Upload through a running server instead, e.g. http://localhost:8080")
	cmd.Flags().StringVar(&opts.username, "username", "", "Admin username for --server")
	cmd.Flags().StringVar(&opts.password, "password", "", "Admin password for --server")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func readUpload(dir string) (service.CSVUpload, error) {
	var upload service.CSVUpload
	for _, f := range []struct {
		name string
		dst  *[]byte
	}{
		{importer.FileQuestionnaires, &upload.Questionnaires},
		{importer.FileQuestions, &upload.Questions},
		{importer.FileJunctions, &upload.Junctions},
	} {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			return upload, err
		}
		*f.dst = data
	}
	return upload, nil
}

func runImport(ctx context.Context, cmd *cobra.Command, opts importOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.apply && opts.server != "" {
		return fmt.Errorf("--apply and --server are mutually exclusive")
	}

	upload, err := readUpload(opts.inputDir)
	if err != nil {
		return err
	}

	switch {
	case opts.server != "":
		client := newAdminClient(opts.server)
		if err := client.Login(opts.username, opts.password); err != nil {
			return err
		}
		result, err := client.UploadCSV(opts.inputDir)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)

	case opts.apply:
		svc, closeDB, err := openImportService(opts.configDir)
		if err != nil {
			return err
		}
		defer closeDB()
		result, err := svc.ImportCSV(ctx, upload)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)

	default:
		parsed, err := importer.Parse(importer.Sources{
			Questionnaires: bytesReader(upload.Questionnaires),
			Questions:      bytesReader(upload.Questions),
			Junctions:      bytesReader(upload.Junctions),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, parsed)
	}
}

func newApproveCmd() *cobra.Command {
	var configDir string
	var id int64
	var reject bool

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve or reject a pending questionnaire directly in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeDB, err := openImportService(configDir)
			if err != nil {
				return err
			}
			defer closeDB()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result, err := svc.Approve(ctx, id, !reject)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&configDir, "config", "configs", "Config directory")
	cmd.Flags().Int64Var(&id, "id", 0, "Pending questionnaire id (negative for pending updates)")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func openImportService(configDir string) (*service.ImportService, func(), error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, nil, err
	}
	logger.InitLogger(cfg)

	db, err := database.InitDB(&cfg.Database, true)
	if err != nil {
		return nil, nil, err
	}
	repos := repository.NewRepositories(db)
	svc := service.NewImportService(repos, nil, service.NewStorageService(cfg), cfg.Import.CollisionStep, cfg.Import.ArchiveUploads)
	closeDB := func() {
		if err := database.Close(db); err != nil {
			logger.Log.Warn("close database", zap.Error(err))
		}
		_ = logger.Log.Sync()
	}
	return svc, closeDB, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
