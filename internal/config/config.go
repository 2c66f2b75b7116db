package config

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/allanpk716/docmerge/internal/matcher"
	"github.com/allanpk716/docmerge/pkg/docx"
)

// 环境变量前缀
const envPrefix = "DOCMERGE_"

// ErrUnsupportedFormat 配置文件扩展名既不是 .json 也不是 .toml
var ErrUnsupportedFormat = errors.New("配置文件必须是 JSON 或 TOML 格式")

// Field 表示一个字段配置项
type Field struct {
	Key        string `json:"key" toml:"key"`
	Value      string `json:"value" toml:"value"`
	SourceFile string `json:"source_file,omitempty" toml:"source_file,omitempty"`
	// Enabled 为空时视为启用
	Enabled *bool `json:"enabled,omitempty" toml:"enabled,omitempty"`
}

// IsEnabled 字段是否参与合并
func (f Field) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// ProcessingConfig 处理配置
type ProcessingConfig struct {
	ParserMode         string `json:"parser_mode" toml:"parser_mode"`
	MaxConcurrentFiles int    `json:"max_concurrent_files" toml:"max_concurrent_files"`
	OutputSuffix       string `json:"output_suffix" toml:"output_suffix"`
	CompressionLevel   int    `json:"compression_level" toml:"compression_level"`
	LogLevel           string `json:"log_level" toml:"log_level"`
	LogFormat          string `json:"log_format" toml:"log_format"`
	OptimizedRepair    bool   `json:"optimized_repair" toml:"optimized_repair"`
}

// Config 表示完整的配置文件结构
type Config struct {
	ProjectName string           `json:"project_name" toml:"project_name"`
	Fields      []Field          `json:"fields" toml:"fields"`
	Processing  ProcessingConfig `json:"processing" toml:"processing"`
}

// ConfigManager 配置管理接口
type ConfigManager interface {
	LoadConfig(filePath string) (*Config, error)
	ValidateConfig(config *Config) error
	GetFieldValues(config *Config) map[string]string
	SaveConfig(config *Config, filePath string) error
}

// configManager 配置管理器实现
type configManager struct{}

// NewConfigManager 创建新的配置管理器
func NewConfigManager() ConfigManager {
	return &configManager{}
}

// Default 返回带默认值的配置
func Default() Config {
	return Config{
		Processing: ProcessingConfig{
			ParserMode:         string(docx.ParserDOM),
			MaxConcurrentFiles: 4,
			OutputSuffix:       "_merged",
			CompressionLevel:   flate.BestCompression,
			LogLevel:           "info",
			LogFormat:          "text",
		},
	}
}

// LoadConfig 依次应用默认值、配置文件、.env 与 DOCMERGE_* 环境变量，然后验证
func (cm *configManager) LoadConfig(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, fmt.Errorf("配置文件路径不能为空")
	}

	// 检查文件是否存在
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("配置文件不存在: %s", filePath)
	}

	// 读取文件内容
	data, err := readConfigFile(filePath)
	if err != nil {
		return nil, err
	}

	config := Default()
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w，当前文件: %q", ErrUnsupportedFormat, ext)
	}

	env, err := loadEnv(filepath.Join(filepath.Dir(filePath), ".env"))
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&config, env); err != nil {
		return nil, err
	}

	// 验证配置
	if err := cm.ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// DefaultWithEnv 没有配置文件时使用：默认值加上 dir 下的 .env 与环境变量覆盖
func DefaultWithEnv(dir string) (*Config, error) {
	config := Default()
	env, err := loadEnv(filepath.Join(dir, ".env"))
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&config, env); err != nil {
		return nil, err
	}
	if err := validateProcessing(&config.Processing); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &config, nil
}

// readConfigFile 读取配置文件，去掉UTF-8 BOM并按BOM解码UTF-16
func readConfigFile(filePath string) ([]byte, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), decoder))
	if err != nil {
		return nil, fmt.Errorf("解码配置文件失败: %w", err)
	}
	return data, nil
}

// loadEnv 返回环境变量查找函数。进程环境优先，其次是 .env 文件。
func loadEnv(dotenvPath string) (func(string) (string, bool), error) {
	dotenv := map[string]string{}
	if _, err := os.Stat(dotenvPath); err == nil {
		if dotenv, err = godotenv.Read(dotenvPath); err != nil {
			return nil, fmt.Errorf("读取 .env 文件失败: %w", err)
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}, nil
}

// applyEnvOverrides 用 DOCMERGE_* 变量覆盖配置
func applyEnvOverrides(config *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"PROJECT_NAME":  &config.ProjectName,
		"PARSER_MODE":   &config.Processing.ParserMode,
		"OUTPUT_SUFFIX": &config.Processing.OutputSuffix,
		"LOG_LEVEL":     &config.Processing.LogLevel,
		"LOG_FORMAT":    &config.Processing.LogFormat,
	}
	for key, target := range strs {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*target = v
		}
	}

	ints := map[string]*int{
		"MAX_CONCURRENT_FILES": &config.Processing.MaxConcurrentFiles,
		"COMPRESSION_LEVEL":    &config.Processing.CompressionLevel,
	}
	for key, target := range ints {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("环境变量 %s%s 不是整数: %q", envPrefix, key, v)
		}
		*target = n
	}

	if v, ok := lookup(envPrefix + "OPTIMIZED_REPAIR"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("环境变量 %sOPTIMIZED_REPAIR 不是布尔值: %q", envPrefix, v)
		}
		config.Processing.OptimizedRepair = b
	}
	return nil
}

// ValidateConfig 验证配置的有效性
func (cm *configManager) ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("配置不能为空")
	}

	if strings.TrimSpace(config.ProjectName) == "" {
		return fmt.Errorf("项目名称不能为空")
	}

	// 检查字段重复
	keySet := make(map[string]bool)
	for i, field := range config.Fields {
		if strings.TrimSpace(field.Key) == "" {
			return fmt.Errorf("第 %d 个字段的 key 不能为空", i+1)
		}
		if !matcher.ValidateFieldName(field.Key) {
			return fmt.Errorf("第 %d 个字段的 key 无效: %q", i+1, field.Key)
		}
		key := docx.NormalizeName(field.Key)
		if keySet[key] {
			return fmt.Errorf("字段重复: %s", key)
		}
		keySet[key] = true
	}

	return validateProcessing(&config.Processing)
}

func validateProcessing(pc *ProcessingConfig) error {
	if _, err := docx.NewParser(docx.ParserMode(pc.ParserMode)); err != nil {
		return fmt.Errorf("parser_mode 无效: %w", err)
	}
	if pc.MaxConcurrentFiles < 1 || pc.MaxConcurrentFiles > 50 {
		return fmt.Errorf("max_concurrent_files 必须在 1 到 50 之间，当前值: %d", pc.MaxConcurrentFiles)
	}
	if pc.OutputSuffix == "" || strings.ContainsAny(pc.OutputSuffix, `/\`) {
		return fmt.Errorf("output_suffix 无效: %q", pc.OutputSuffix)
	}
	if pc.CompressionLevel < flate.DefaultCompression || pc.CompressionLevel > flate.BestCompression {
		return fmt.Errorf("compression_level 必须在 -1 到 9 之间，当前值: %d", pc.CompressionLevel)
	}
	switch strings.ToLower(pc.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level 无效: %q", pc.LogLevel)
	}
	switch strings.ToLower(pc.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format 无效: %q", pc.LogFormat)
	}
	return nil
}

// GetFieldValues 将启用的字段转换为 名称→值 映射
func (cm *configManager) GetFieldValues(config *Config) map[string]string {
	if config == nil {
		return nil
	}

	values := make(map[string]string)
	for _, field := range config.Fields {
		if !field.IsEnabled() {
			continue
		}
		values[docx.NormalizeName(field.Key)] = field.Value
	}
	return values
}
