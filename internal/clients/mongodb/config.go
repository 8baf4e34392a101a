package mongodb

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ErrMsgMongoMissingProtocol = "missing protocol"
	ErrMsgMongoMissingHost     = "missing host"
	ErrMsgMongoMissingParams   = "missing connection parameters"
)

var (
	ErrMongoMissingProtocol = errors.New(ErrMsgMongoMissingProtocol)
	ErrMongoMissingHost     = errors.New(ErrMsgMongoMissingHost)
	ErrMongoMissingParams   = errors.New(ErrMsgMongoMissingParams)
)

const DefaultPoolSize uint64 = 10

type MongoConfig struct {
	Protocol string // e.g., "mongodb", "mongodb+srv"
	Host     string // e.g., "localhost:27017"
	User     string
	Pwd      string
	Params   string // e.g., "?retryWrites=true&w=majority"
	DBName   string
	PoolSize uint64
}

// URI builds "[protocol]://[user[:password]@]host[/params]".
// Plain mongodb URIs need connection params, SRV ones do not.
func (c MongoConfig) URI() (string, error) {
	if c.Protocol == "" {
		return "", ErrMongoMissingProtocol
	}
	if c.Host == "" {
		return "", ErrMongoMissingHost
	}
	if c.Protocol == "mongodb" && c.Params == "" {
		return "", ErrMongoMissingParams
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s://", c.Protocol))
	if c.User != "" {
		sb.WriteString(c.User)
		if c.Pwd != "" {
			sb.WriteString(":" + c.Pwd)
		}
		sb.WriteString("@")
	}
	sb.WriteString(c.Host)
	if c.Params != "" {
		sb.WriteString("/" + strings.TrimPrefix(c.Params, "/"))
	}
	return sb.String(), nil
}
