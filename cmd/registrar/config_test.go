package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, 8080, v.GetInt("registrar.port"))
	assert.Equal(t, []string{"127.0.0.1"}, splitList(v, "registrar.allowed_hosts"))
	assert.Equal(t, 30*time.Second, v.GetDuration("puppetca.timeout"))
	assert.True(t, v.GetBool("puppetca.insecure_skip_verify"))
}

func TestSplitList_commaSeparatedEnv(t *testing.T) {
	t.Setenv("REGISTRAR_ALLOWED_HOSTS", "10.0.0.1, 10.1.0.0/16,,")
	v := viper.New()
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()
	setDefaults(v)

	assert.Equal(t, []string{"10.0.0.1", "10.1.0.0/16"}, splitList(v, "registrar.allowed_hosts"))
}

func TestContainsWildcard(t *testing.T) {
	assert.True(t, containsWildcard([]string{"https://a.example.com", " * "}))
	assert.False(t, containsWildcard([]string{"https://a.example.com"}))
}
