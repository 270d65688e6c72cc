package config

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/throttlecache/internal/cache"
	"github.com/any-hub/throttlecache/internal/rules"
)

// StoreOptions 将全局配置映射为磁盘缓存参数（假定 Validate 已经通过）。
func (g GlobalConfig) StoreOptions(logger *logrus.Logger) cache.Options {
	return cache.Options{
		LockMode:  cache.LockMode(g.LockMode),
		WriteMode: cache.WriteMode(g.WriteMode),
		Logger:    logger,
	}
}

// RuleTable 根据 [[Rule]] 构建一份新的规则表，调用方持有并可在运行期修改。
func (c *Config) RuleTable() (*rules.Table, error) {
	return rules.NewTable(c.HostRules()...)
}
