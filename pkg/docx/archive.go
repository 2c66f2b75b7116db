package docx

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"time"
)

const (
	// DocumentPart 主文档部件
	DocumentPart = "word/document.xml"
	// CustomPropertiesPart 自定义属性部件
	CustomPropertiesPart = "docProps/custom.xml"

	// DefaultMaxEntrySize 单个条目解压后的大小上限（100 MB），防止ZIP炸弹
	DefaultMaxEntrySize = 100 << 20
	// DefaultCompressionLevel 修改过的条目使用的固定压缩级别
	DefaultCompressionLevel = flate.BestCompression
)

// ErrPartNotFound 归档中不存在指定条目
var ErrPartNotFound = errors.New("归档中不存在该条目")

// 新建条目使用固定时间戳，保证输出稳定
var fixedModTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

var headerFooterPattern = regexp.MustCompile(`^word/(header|footer)(\d+)\.xml$`)

// ArchiveOptions 归档打开选项
type ArchiveOptions struct {
	// CompressionLevel flate 压缩级别，-1..9
	CompressionLevel int
	// MaxEntrySize 单个条目解压后的大小上限
	MaxEntrySize int64
}

// DefaultArchiveOptions 返回默认选项
func DefaultArchiveOptions() ArchiveOptions {
	return ArchiveOptions{
		CompressionLevel: DefaultCompressionLevel,
		MaxEntrySize:     DefaultMaxEntrySize,
	}
}

// archiveEntry 归档中的单个条目
type archiveEntry struct {
	name    string
	file    *zip.File // 原始条目，新建条目为 nil
	content []byte    // 已读取或已写入的内容
	loaded  bool
	dirty   bool
}

// Archive 基于内存缓冲区的DOCX容器，保持条目顺序
type Archive struct {
	entries []*archiveEntry
	index   map[string]*archiveEntry
	opts    ArchiveOptions
}

// Open 使用默认选项打开DOCX缓冲区
func Open(buf []byte) (*Archive, error) {
	return OpenWithOptions(buf, DefaultArchiveOptions())
}

// OpenWithOptions 打开DOCX缓冲区。在完整解析之前先检查 PK 签名，
// 这样非ZIP输入会得到明确的 CorruptArchiveError。
func OpenWithOptions(buf []byte, opts ArchiveOptions) (*Archive, error) {
	if len(buf) < 2 || buf[0] != 'P' || buf[1] != 'K' {
		if IsLegacyDocument(buf) {
			return nil, &CorruptArchiveError{Reason: "这是旧版二进制Word文档(.doc)，请先另存为.docx"}
		}
		return nil, &CorruptArchiveError{Reason: "缺少PK签名"}
	}

	reader, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, &CorruptArchiveError{Reason: "无法解析ZIP目录", Cause: err}
	}

	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = DefaultMaxEntrySize
	}
	if opts.CompressionLevel < flate.HuffmanOnly || opts.CompressionLevel > flate.BestCompression {
		return nil, fmt.Errorf("压缩级别无效: %d", opts.CompressionLevel)
	}

	a := &Archive{
		entries: make([]*archiveEntry, 0, len(reader.File)),
		index:   make(map[string]*archiveEntry, len(reader.File)),
		opts:    opts,
	}
	for _, file := range reader.File {
		if _, exists := a.index[file.Name]; exists {
			continue
		}
		e := &archiveEntry{name: file.Name, file: file}
		a.entries = append(a.entries, e)
		a.index[file.Name] = e
	}

	return a, nil
}

// Has 检查条目是否存在
func (a *Archive) Has(name string) bool {
	_, ok := a.index[name]
	return ok
}

// Names 按原始顺序返回所有条目名
func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.name
	}
	return names
}

// ReadText 以文本形式读取条目，条目不存在时返回 ErrPartNotFound
func (a *Archive) ReadText(name string) (string, error) {
	data, err := a.ReadBytes(name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadBytes 读取条目内容
func (a *Archive) ReadBytes(name string) ([]byte, error) {
	e, ok := a.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPartNotFound, name)
	}
	if e.loaded {
		return e.content, nil
	}

	rc, err := e.file.Open()
	if err != nil {
		return nil, fmt.Errorf("打开条目 %s 失败: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, a.opts.MaxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("读取条目 %s 失败: %w", name, err)
	}
	if int64(len(data)) > a.opts.MaxEntrySize {
		return nil, fmt.Errorf("条目 %s 超过 %d 字节上限", name, a.opts.MaxEntrySize)
	}

	e.content = data
	e.loaded = true
	return data, nil
}

// WriteText 写入条目，同名多次写入以最后一次为准
func (a *Archive) WriteText(name, content string) {
	a.WriteBytes(name, []byte(content))
}

// WriteBytes 写入条目内容，不存在时追加到末尾
func (a *Archive) WriteBytes(name string, content []byte) {
	e, ok := a.index[name]
	if !ok {
		e = &archiveEntry{name: name}
		a.entries = append(a.entries, e)
		a.index[name] = e
	}
	e.content = content
	e.loaded = true
	e.dirty = true
}

// IsModified 检查条目是否被改写过
func (a *Archive) IsModified(name string) bool {
	e, ok := a.index[name]
	return ok && e.dirty
}

// ContentParts 返回主文档、页眉、页脚部件，顺序稳定
func (a *Archive) ContentParts() []string {
	var parts []string
	if a.Has(DocumentPart) {
		parts = append(parts, DocumentPart)
	}

	type numbered struct {
		kind string
		n    int
		name string
	}
	var extra []numbered
	for _, e := range a.entries {
		m := headerFooterPattern.FindStringSubmatch(e.name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[2])
		extra = append(extra, numbered{kind: m[1], n: n, name: e.name})
	}
	sort.SliceStable(extra, func(i, j int) bool {
		if extra[i].kind != extra[j].kind {
			return extra[i].kind == "header"
		}
		return extra[i].n < extra[j].n
	})
	for _, p := range extra {
		parts = append(parts, p.name)
	}
	return parts
}

// Serialize 生成输出缓冲区。未修改的条目按原始压缩字节复制，
// 修改过的条目使用固定压缩级别重新压缩。
func (a *Archive) Serialize() ([]byte, error) {
	var out bytes.Buffer
	zipWriter := zip.NewWriter(&out)
	level := a.opts.CompressionLevel
	zipWriter.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	for _, e := range a.entries {
		if !e.dirty && e.file != nil {
			if err := copyRawEntry(zipWriter, e.file); err != nil {
				return nil, err
			}
			continue
		}

		header := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Deflate,
			Modified: fixedModTime,
		}
		if e.file != nil {
			header.Modified = e.file.Modified
			header.Comment = e.file.Comment
			header.ExternalAttrs = e.file.ExternalAttrs
		}

		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("创建ZIP文件头 %s 失败: %w", e.name, err)
		}
		if _, err := writer.Write(e.content); err != nil {
			return nil, fmt.Errorf("写入条目 %s 失败: %w", e.name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("关闭ZIP写入器失败: %w", err)
	}
	return out.Bytes(), nil
}

// copyRawEntry 原样复制压缩数据
func copyRawEntry(zipWriter *zip.Writer, file *zip.File) error {
	raw, err := file.OpenRaw()
	if err != nil {
		return fmt.Errorf("打开条目 %s 原始数据失败: %w", file.Name, err)
	}
	header := file.FileHeader
	writer, err := zipWriter.CreateRaw(&header)
	if err != nil {
		return fmt.Errorf("创建ZIP文件头 %s 失败: %w", file.Name, err)
	}
	if _, err := io.Copy(writer, raw); err != nil {
		return fmt.Errorf("复制条目 %s 失败: %w", file.Name, err)
	}
	return nil
}
