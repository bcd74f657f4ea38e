package assets

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"NeoGas-Relay/internal/neo"
)

// DefaultDecimals 是未显式声明精度时采用的小数位数。
const DefaultDecimals = 8

// 原生合约哈希在所有 N3 网络上一致。
var (
	NeoToken = mustParse("0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5")
	GasToken = mustParse("0xd2a4cff31913016155e38e474a2c06d08be276cf")
)

func mustParse(s string) neo.UInt160 {
	u, err := neo.ParseUInt160(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Asset 描述一种可中继的 NEP-17 资产。
type Asset struct {
	Symbol   string
	Hash     neo.UInt160
	Decimals int
}

// Format 把最小单位数量渲染成带小数点的可读形式，审计日志使用。
func (a Asset) Format(raw int64) string {
	if a.Decimals <= 0 {
		return fmt.Sprintf("%d", raw)
	}
	v := big.NewInt(raw)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Decimals)), nil)
	quo, rem := new(big.Int).QuoRem(v, scale, new(big.Int))
	sign := ""
	if rem.Sign() < 0 {
		rem.Abs(rem)
		if quo.Sign() == 0 {
			sign = "-"
		}
	}
	return fmt.Sprintf("%s%s.%0*d", sign, quo.String(), a.Decimals, rem.Int64())
}

// Catalog 维护符号与脚本哈希到资产定义的双向映射。
type Catalog struct {
	bySymbol map[string]Asset
	byHash   map[neo.UInt160]Asset
}

// New 根据资产列表构建目录，符号不区分大小写且不允许重复。
func New(list []Asset) (*Catalog, error) {
	c := &Catalog{
		bySymbol: make(map[string]Asset, len(list)),
		byHash:   make(map[neo.UInt160]Asset, len(list)),
	}
	for _, a := range list {
		symbol := strings.ToUpper(strings.TrimSpace(a.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("资产符号不能为空")
		}
		if a.Hash.IsZero() {
			return nil, fmt.Errorf("资产 %s 缺少合约哈希", symbol)
		}
		if a.Decimals < 0 || a.Decimals > 18 {
			return nil, fmt.Errorf("资产 %s 精度 %d 超出范围", symbol, a.Decimals)
		}
		if _, exists := c.bySymbol[symbol]; exists {
			return nil, fmt.Errorf("资产符号 %s 重复", symbol)
		}
		if prior, exists := c.byHash[a.Hash]; exists {
			return nil, fmt.Errorf("资产 %s 与 %s 使用了同一合约哈希", symbol, prior.Symbol)
		}
		a.Symbol = symbol
		c.bySymbol[symbol] = a
		c.byHash[a.Hash] = a
	}
	return c, nil
}

// Builtin 返回只包含原生 NEO 与 GAS 的目录，目录文件缺省时兜底。
func Builtin() *Catalog {
	c, err := New([]Asset{
		{Symbol: "NEO", Hash: NeoToken, Decimals: 8},
		{Symbol: "GAS", Hash: GasToken, Decimals: 8},
	})
	if err != nil {
		panic(err)
	}
	return c
}

type fileAsset struct {
	Symbol   string `yaml:"symbol"`
	Hash     string `yaml:"hash"`
	Decimals *int   `yaml:"decimals"`
}

type fileCatalog struct {
	Assets []fileAsset `yaml:"assets"`
}

// Load 从 YAML 文件加载资产目录。
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("资产目录文件路径不能为空")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取资产目录失败: %w", err)
	}

	var decoded fileCatalog
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("解析资产目录失败: %w", err)
	}
	if len(decoded.Assets) == 0 {
		return nil, fmt.Errorf("资产目录 %s 中没有任何条目", path)
	}

	list := make([]Asset, 0, len(decoded.Assets))
	for _, entry := range decoded.Assets {
		hash, err := neo.ParseUInt160(entry.Hash)
		if err != nil {
			return nil, fmt.Errorf("资产 %s 合约哈希非法: %w", entry.Symbol, err)
		}
		decimals := DefaultDecimals
		if entry.Decimals != nil {
			decimals = *entry.Decimals
		}
		list = append(list, Asset{Symbol: entry.Symbol, Hash: hash, Decimals: decimals})
	}
	return New(list)
}

// BySymbol 按符号查找资产，符号不区分大小写。
func (c *Catalog) BySymbol(symbol string) (Asset, bool) {
	a, ok := c.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return a, ok
}

// ByHash 按合约哈希查找资产。
func (c *Catalog) ByHash(h neo.UInt160) (Asset, bool) {
	a, ok := c.byHash[h]
	return a, ok
}

// Resolve 同时接受符号与 0x 合约哈希两种写法。目录即白名单：
// 未登记的资产没有精度与报价对，一律视为错误。
func (c *Catalog) Resolve(ref string) (Asset, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return Asset{}, fmt.Errorf("资产引用不能为空")
	}
	if a, ok := c.BySymbol(trimmed); ok {
		return a, nil
	}
	hash, err := neo.ParseUInt160(trimmed)
	if err != nil {
		return Asset{}, fmt.Errorf("资产 %q 既不是已知符号也不是合约哈希", ref)
	}
	if a, ok := c.ByHash(hash); ok {
		return a, nil
	}
	return Asset{}, fmt.Errorf("资产 %s 未在目录中登记", hash)
}

// Symbols 返回目录中的全部符号，字典序排列。
func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.bySymbol))
	for symbol := range c.bySymbol {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
