package cmd

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// 应用信息
const (
	AppName    = "docmerge"
	AppVersion = "1.0.0"
)

// DefaultConfigFile 未指定 -config 时尝试加载的文件，不存在时忽略
const DefaultConfigFile = "config.json"

// CommandLineArgs 命令行参数结构
type CommandLineArgs struct {
	ConfigFile string
	// ConfigExplicit 是否显式指定了 -config
	ConfigExplicit bool
	InputFile      string
	OutputFile     string
	InputDir       string
	OutputDir      string
	// Sets 通过 -set key=value 给出的字段值，优先于配置文件
	Sets        map[string]string
	Inspect     bool
	InitConfig  string
	LogFormat   string
	ShowVersion bool
	ShowHelp    bool
	Verbose     bool
}

// setFlag 可重复的 key=value 参数
type setFlag map[string]string

func (s setFlag) String() string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + s[k]
	}
	return strings.Join(pairs, ",")
}

func (s setFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("格式必须是 key=value: %q", value)
	}
	s[strings.TrimSpace(key)] = val
	return nil
}

// ParseCommandLineArgs 解析命令行参数
func ParseCommandLineArgs(argv []string, output io.Writer) (*CommandLineArgs, error) {
	args := &CommandLineArgs{Sets: make(map[string]string)}

	fs := flag.NewFlagSet(AppName, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&args.ConfigFile, "config", DefaultConfigFile, "配置文件路径（.json 或 .toml）")
	fs.StringVar(&args.InputFile, "input", "", "输入 DOCX 文件路径")
	fs.StringVar(&args.OutputFile, "output", "", "输出 DOCX 文件路径")
	fs.StringVar(&args.InputDir, "input-dir", "", "输入目录路径（批量处理）")
	fs.StringVar(&args.OutputDir, "output-dir", "", "输出目录路径（批量处理）")
	fs.Var(setFlag(args.Sets), "set", "字段值 key=value，可重复")
	fs.BoolVar(&args.Inspect, "inspect", false, "只列出字段，不生成文档")
	fs.StringVar(&args.InitConfig, "init-config", "", "根据输入文档的字段生成配置文件")
	fs.StringVar(&args.LogFormat, "log-format", "", "日志格式 text 或 json，覆盖配置文件")
	fs.BoolVar(&args.ShowVersion, "version", false, "显示版本信息")
	fs.BoolVar(&args.ShowHelp, "help", false, "显示帮助信息")
	fs.BoolVar(&args.Verbose, "verbose", false, "详细输出")
	fs.Usage = func() { ShowUsage(output) }

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			args.ShowHelp = true
			return args, nil
		}
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			args.ConfigExplicit = true
		}
	})
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("无法识别的参数: %s", strings.Join(fs.Args(), " "))
	}

	return args, nil
}

// ValidateArgs 验证命令行参数，并补全缺省的输出路径
func ValidateArgs(args *CommandLineArgs, outputSuffix string) error {
	if args.ConfigFile == "" {
		return fmt.Errorf("配置文件路径不能为空")
	}

	switch args.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("日志格式必须是 text 或 json: %q", args.LogFormat)
	}

	// 检查是单文件处理还是批量处理
	hasSingleFile := args.InputFile != "" || args.OutputFile != ""
	hasBatchMode := args.InputDir != "" || args.OutputDir != ""

	if !hasSingleFile && !hasBatchMode {
		return fmt.Errorf("必须指定输入文件或输入目录")
	}

	if hasSingleFile && hasBatchMode {
		return fmt.Errorf("不能同时指定单文件和批量处理模式")
	}

	if args.InitConfig != "" && args.InputFile == "" {
		return fmt.Errorf("-init-config 只能与 -input 一起使用")
	}

	readOnly := args.Inspect || args.InitConfig != ""

	if hasSingleFile {
		if args.InputFile == "" {
			return fmt.Errorf("单文件模式下必须指定输入文件")
		}
		if args.OutputFile == "" && !readOnly {
			// 自动生成输出文件名
			args.OutputFile = GenerateOutputFileName(args.InputFile, outputSuffix)
		}
		if args.OutputFile != "" && samePath(args.InputFile, args.OutputFile) {
			return fmt.Errorf("输出文件不能覆盖输入文件: %s", args.InputFile)
		}
	}

	if hasBatchMode {
		if args.InputDir == "" {
			return fmt.Errorf("批量模式下必须指定输入目录")
		}
		if args.OutputDir == "" && !readOnly {
			// 自动生成输出目录名
			args.OutputDir = filepath.Clean(args.InputDir) + outputSuffix
		}
		if args.OutputDir != "" && samePath(args.InputDir, args.OutputDir) {
			return fmt.Errorf("输出目录不能与输入目录相同: %s", args.InputDir)
		}
	}

	return nil
}

// GenerateOutputFileName 生成输出文件名
func GenerateOutputFileName(inputFile, suffix string) string {
	ext := filepath.Ext(inputFile)
	base := strings.TrimSuffix(inputFile, ext)
	return base + suffix + ext
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// ShowUsage 显示帮助信息
func ShowUsage(w io.Writer) {
	fmt.Fprintf(w, `%s v%s - Word 文档合并工具

用法:
  %s -input 模板.docx [-output 结果.docx] [-config config.json] [-set key=value ...]
  %s -input-dir 模板目录 [-output-dir 输出目录] [-config config.toml]
  %s -input 模板.docx -inspect
  %s -input 模板.docx -init-config config.json

参数:
  -config       配置文件路径（.json 或 .toml，默认 %s，不存在时忽略）
  -input        输入 DOCX 文件
  -output       输出 DOCX 文件（默认在输入文件名后加后缀）
  -input-dir    批量处理的输入目录
  -output-dir   批量处理的输出目录
  -set          字段值 key=value，可重复，优先于配置文件
  -inspect      列出文档中的占位符和自定义属性
  -init-config  根据输入文档的字段生成配置文件
  -log-format   日志格式 text 或 json
  -verbose      输出调试日志
  -version      显示版本信息
  -help         显示帮助信息

环境变量:
  DOCMERGE_PARSER_MODE, DOCMERGE_MAX_CONCURRENT_FILES, DOCMERGE_OUTPUT_SUFFIX,
  DOCMERGE_COMPRESSION_LEVEL, DOCMERGE_LOG_LEVEL, DOCMERGE_LOG_FORMAT,
  DOCMERGE_OPTIMIZED_REPAIR（也可写在配置文件旁的 .env 中）
`, AppName, AppVersion, AppName, AppName, AppName, AppName, DefaultConfigFile)
}
