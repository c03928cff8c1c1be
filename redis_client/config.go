package redis_client

import (
	"net"
	"time"
)

type Config struct {
	Host         string        `mapstructure:"host" json:"host" yaml:"host" default:"127.0.0.1"`
	Port         string        `mapstructure:"port" json:"port" yaml:"port" default:"6379"`
	Password     string        `mapstructure:"password" json:"password" yaml:"password"`
	DB           int           `mapstructure:"db" json:"db" yaml:"db" validate:"gte=0,lte=15"`
	PoolSize     int           `mapstructure:"pool-size" json:"poolSize" yaml:"pool-size" default:"10" validate:"gte=0"`
	DialTimeout  time.Duration `mapstructure:"dial-timeout" json:"dialTimeout" yaml:"dial-timeout" default:"5s"`
	ReadTimeout  time.Duration `mapstructure:"read-timeout" json:"readTimeout" yaml:"read-timeout" default:"3s"`
	WriteTimeout time.Duration `mapstructure:"write-timeout" json:"writeTimeout" yaml:"write-timeout" default:"3s"`
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
