package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/allanpk716/docmerge/pkg/docx"
)

// SaveConfig 按扩展名保存配置；目标文件已存在时先备份
func (cm *configManager) SaveConfig(config *Config, filePath string) error {
	if config == nil {
		return fmt.Errorf("配置不能为空")
	}

	// 验证配置
	if err := cm.ValidateConfig(config); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	// 序列化配置
	var data []byte
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".json":
		out, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化配置失败: %w", err)
		}
		data = out
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(config); err != nil {
			return fmt.Errorf("序列化配置失败: %w", err)
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("%w，当前文件: %q", ErrUnsupportedFormat, ext)
	}

	if _, err := createBackup(filePath, time.Now()); err != nil {
		return err
	}

	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	// 写入文件
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// createBackup 创建配置文件备份，返回备份路径；文件不存在时返回空路径
func createBackup(filePath string, now time.Time) (string, error) {
	src, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("读取原文件失败: %w", err)
	}

	// 生成备份文件名
	base := filepath.Base(filePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	backupPath := filepath.Join(filepath.Dir(filePath), fmt.Sprintf("%s_backup_%s%s", name, now.Format("20060102_150405"), ext))

	if err := os.WriteFile(backupPath, src, 0644); err != nil {
		return "", fmt.Errorf("写入备份文件失败: %w", err)
	}
	return backupPath, nil
}

// NewTemplateConfig 根据文档的字段生成配置骨架。
// 自定义属性带上当前值，占位符的值留空。
func NewTemplateConfig(projectName, sourceFile string, fields docx.FieldSet, props docx.PropertyList) *Config {
	config := Default()
	config.ProjectName = projectName
	for _, f := range fields.All() {
		value := ""
		if f.Kind == docx.FieldCustomProperty {
			value, _ = props.Get(f.Name)
		}
		config.Fields = append(config.Fields, Field{Key: f.Name, Value: value, SourceFile: sourceFile})
	}
	return &config
}
