package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/allanpk716/docmerge/internal/config"
	"github.com/allanpk716/docmerge/internal/domain"
	"github.com/allanpk716/docmerge/internal/processor"
	"github.com/allanpk716/docmerge/pkg/docx"
)

// Processor 命令行使用的处理器
type Processor interface {
	domain.DocumentProcessor
	domain.BatchProcessor
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	failColor = color.New(color.FgRed)
)

// errLegacyDocument 旧版 .doc 不参与合并
var errLegacyDocument = errors.New("旧版 .doc 文档需要先另存为 .docx")

// LoadConfiguration 加载配置。未显式指定且默认文件不存在时使用默认值与环境变量。
func LoadConfiguration(manager config.ConfigManager, args *CommandLineArgs) (*config.Config, error) {
	if !args.ConfigExplicit {
		if _, err := os.Stat(args.ConfigFile); os.IsNotExist(err) {
			return config.DefaultWithEnv(".")
		}
	}
	return manager.LoadConfig(args.ConfigFile)
}

// NewLogger 按配置创建日志器，-verbose 打开调试日志
func NewLogger(w io.Writer, pc config.ProcessingConfig, args *CommandLineArgs) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(pc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if args.Verbose {
		level = slog.LevelDebug
	}

	format := pc.LogFormat
	if args.LogFormat != "" {
		format = args.LogFormat
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: args.Verbose}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// BuildProcessorOptions 把处理配置转换为处理器选项
func BuildProcessorOptions(cfg *config.Config, logger *slog.Logger) (processor.Options, error) {
	parser, err := docx.NewParser(docx.ParserMode(cfg.Processing.ParserMode))
	if err != nil {
		return processor.Options{}, err
	}

	opts := processor.DefaultOptions()
	opts.Engine.Parser = parser
	opts.Engine.Archive.CompressionLevel = cfg.Processing.CompressionLevel
	opts.Engine.OptimizedRepair = cfg.Processing.OptimizedRepair
	opts.MaxConcurrentFiles = cfg.Processing.MaxConcurrentFiles
	opts.Logger = logger
	return opts, nil
}

// MergeValues 合并字段值，overrides 中的值优先
func MergeValues(base, overrides map[string]string) map[string]string {
	values := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		values[docx.NormalizeName(k)] = v
	}
	for k, v := range overrides {
		values[docx.NormalizeName(k)] = v
	}
	return values
}

// ExecuteProcessing 执行处理逻辑
func ExecuteProcessing(ctx context.Context, p Processor, manager config.ConfigManager, args *CommandLineArgs, values map[string]string, out io.Writer) error {
	switch {
	case args.InitConfig != "":
		return InitConfigFile(ctx, p, manager, args.InputFile, args.InitConfig, out)
	case args.Inspect && args.InputFile != "":
		return InspectFiles(ctx, p, []string{args.InputFile}, out)
	case args.Inspect:
		docs, legacy, err := FindDocxFiles(args.InputDir)
		if err != nil {
			return fmt.Errorf("查找 DOCX 文件失败: %w", err)
		}
		reportLegacy(legacy, out)
		return InspectFiles(ctx, p, docs, out)
	case args.InputFile != "":
		// 单文件处理
		return ProcessSingleFile(ctx, p, args.InputFile, args.OutputFile, values, out)
	default:
		// 批量处理
		return ProcessBatchFiles(ctx, p, args.InputDir, args.OutputDir, values, out)
	}
}

// readDocument 读取文档；旧版 .doc 打印其属性后返回错误
func readDocument(path string, out io.Writer) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	if docx.IsLegacyDocument(data) {
		if err := PrintLegacyProperties(data, path, out); err != nil {
			warnColor.Fprintf(out, "! 无法读取 %s 的属性: %v\n", path, err)
		}
		return nil, fmt.Errorf("%s: %w", path, errLegacyDocument)
	}
	return data, nil
}

// ProcessSingleFile 处理单个文件
func ProcessSingleFile(ctx context.Context, p Processor, inputFile, outputFile string, values map[string]string, out io.Writer) error {
	data, err := readDocument(inputFile, out)
	if err != nil {
		return err
	}

	result, err := p.Process(ctx, domain.Document{Name: filepath.Base(inputFile), Content: data}, values)
	if err != nil {
		return fmt.Errorf("处理文件失败: %w", err)
	}

	if err := writeOutput(outputFile, result.Content); err != nil {
		return err
	}
	printResult(out, outputFile, result)
	return nil
}

// ProcessBatchFiles 批量处理目录中的文件，输出保持相对路径
func ProcessBatchFiles(ctx context.Context, p Processor, inputDir, outputDir string, values map[string]string, out io.Writer) error {
	// 查找所有 DOCX 文件
	files, legacy, err := FindDocxFiles(inputDir)
	if err != nil {
		return fmt.Errorf("查找 DOCX 文件失败: %w", err)
	}
	reportLegacy(legacy, out)

	if len(files) == 0 {
		return fmt.Errorf("在目录 %s 中没有找到 DOCX 文件", inputDir)
	}

	docs := make([]domain.Document, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("读取文件失败: %w", err)
		}
		// 生成输出文件路径
		relPath, err := filepath.Rel(inputDir, file)
		if err != nil {
			return fmt.Errorf("计算相对路径失败: %w", err)
		}
		docs = append(docs, domain.Document{Name: relPath, Content: data})
	}

	items := p.ProcessBatch(ctx, docs, values, func(done, total int, item domain.BatchItem) {
		if item.Err != nil {
			failColor.Fprintf(out, "[%d/%d] ✗ %s: %v\n", done, total, item.Document, item.Err)
			return
		}
		fmt.Fprintf(out, "[%d/%d] %s\n", done, total, item.Document)
	})

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
			continue
		}
		outputFile := filepath.Join(outputDir, item.Result.Name)
		if err := writeOutput(outputFile, item.Result.Content); err != nil {
			failColor.Fprintf(out, "✗ %v\n", err)
			failed++
			continue
		}
		printResult(out, outputFile, item.Result)
	}

	if failed > 0 {
		return fmt.Errorf("批量处理完成，%d/%d 个文件失败", failed, len(items))
	}
	okColor.Fprintf(out, "批量处理完成，共处理 %d 个文件\n", len(items))
	return nil
}

func writeOutput(path string, content []byte) error {
	// 确保输出文件的目录存在
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("写入输出文件失败: %w", err)
	}
	return nil
}

func printResult(out io.Writer, path string, result *domain.ProcessingResult) {
	if result.UsedFallback {
		warnColor.Fprintf(out, "! %s（使用回退路径生成，请检查格式）\n", path)
		return
	}
	okColor.Fprintf(out, "✓ %s\n", path)
}

func reportLegacy(legacy []string, out io.Writer) {
	for _, path := range legacy {
		warnColor.Fprintf(out, "! 跳过旧版文档 %s：%v\n", path, errLegacyDocument)
	}
}

// FindDocxFiles 查找目录中的 DOCX 文件，同时返回找到的旧版 .doc 文件
func FindDocxFiles(dir string) (docs, legacy []string, err error) {
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		// 排除临时文件
		if strings.HasPrefix(d.Name(), "~$") {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".docx":
			docs = append(docs, path)
		case ".doc":
			legacy = append(legacy, path)
		}
		return nil
	})
	sort.Strings(docs)
	sort.Strings(legacy)
	return docs, legacy, err
}
