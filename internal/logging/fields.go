package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// CacheFields 描述一次缓存决策所针对的条目。
func CacheFields(host, path, location, policy string) logrus.Fields {
	return logrus.Fields{
		"host":     host,
		"path":     path,
		"location": location,
		"policy":   policy,
	}
}

// RequestFields 提供镜像请求的公共字段，cache_status 取自响应的 X-Cache。
func RequestFields(requestID, host, path string, status int, cacheStatus string) logrus.Fields {
	fields := logrus.Fields{
		"host":         host,
		"path":         path,
		"status":       status,
		"cache_status": cacheStatus,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
