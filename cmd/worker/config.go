package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	logrus "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/app/worker"
	redisdb "rias-agent-golang/internal/db/redis"
	"rias-agent-golang/internal/domain/vad"
)

func Init(configFile string) error {
	//init env
	initEnv()

	//init config
	err := initConfig(configFile)
	if err != nil {
		fmt.Printf("initConfig err: %+v", err)
		os.Exit(1)
		return err
	}

	//init log
	initLog()

	//init redis
	initRedis()

	return nil
}

// initEnv loads the local dotenv file. Variables already present in
// the process environment win over file values.
func initEnv() {
	if err := gotenv.Load(constants.DefaultEnvFile); err != nil && !os.IsNotExist(err) {
		fmt.Printf("load %s err: %+v\n", constants.DefaultEnvFile, err)
	}
}

func initConfig(configFile string) error {
	basePath, file := filepath.Split(configFile)

	fileName, fileExt := func(file string) (string, string) {
		if pos := strings.LastIndex(file, "."); pos != -1 {
			return file[:pos], strings.ToLower(file[pos+1:])
		}
		return file, ""
	}(file)

	viper.SetConfigName(fileName)
	viper.AddConfigPath(basePath)

	switch fileExt {
	case "json":
		viper.SetConfigType("json")
	case "yaml", "yml":
		viper.SetConfigType("yaml")
	default:
		return fmt.Errorf("unsupported config file type: %s", fileExt)
	}

	return viper.ReadInConfig()
}

func initLog() error {
	binPath, _ := os.Executable()
	baseDir := filepath.Dir(binPath)
	logPath := fmt.Sprintf("%s/%s%s", baseDir, viper.GetString("log.path"), viper.GetString("log.file"))

	writer, err := rotatelogs.New(
		logPath+".%Y%m%d",
		rotatelogs.WithLinkName(logPath),
		rotatelogs.WithRotationCount(uint(viper.GetInt("log.max_age"))),
		rotatelogs.WithRotationTime(time.Duration(86400)*time.Second),
	)
	if err != nil {
		fmt.Printf("init log error: %v\n", err)
		os.Exit(1)
		return err
	}

	if viper.GetBool("log.stdout") {
		multiWriter := io.MultiWriter(writer, os.Stdout)
		logrus.SetOutput(multiWriter)
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			ForceColors:     true,
		})
	} else {
		logrus.SetOutput(writer)
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			ForceColors:     false,
		})
	}

	// caller field comes from the logger wrapper
	logrus.SetReportCaller(false)
	logLevel, _ := logrus.ParseLevel(viper.GetString("log.level"))
	logrus.SetLevel(logLevel)

	return nil
}

// initRedis is optional, dialogue memory falls back to in-process
// storage when no redis host is configured.
func initRedis() error {
	if viper.GetString("redis.host") == "" {
		return nil
	}
	redisConfig := &redisdb.Config{
		Host:     viper.GetString("redis.host"),
		Port:     viper.GetInt("redis.port"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	}

	err := redisdb.Init(redisConfig)
	if err != nil {
		fmt.Printf("init redis error: %v\n", err)
		return err
	}

	return nil
}

// prewarm loads the voice activity detector once per worker process.
// Registered only in audio mode.
func prewarm(proc *worker.JobProcess) error {
	provider := viper.GetString("vad.provider")
	if provider == "" {
		provider = constants.VadTypeSileroVad
	}
	config := viper.GetStringMap("vad." + provider)

	handle, err := vad.Load(provider, config)
	if err != nil {
		return fmt.Errorf("load vad provider %s failed: %w", provider, err)
	}
	proc.Set(constants.UserDataKeyVad, handle)
	return nil
}

// pipelineConfig merges configured endpoints and credentials over the
// fixed model bindings.
func pipelineConfig() worker.PipelineConfig {
	cfg := worker.DefaultPipelineConfig()

	for key, value := range viper.GetStringMap("asr") {
		cfg.Asr[key] = value
	}
	for key, value := range viper.GetStringMap("llm") {
		cfg.Llm[key] = value
	}
	for key, value := range viper.GetStringMap("tts") {
		cfg.Tts[key] = value
	}
	for key, value := range viper.GetStringMap("turn_detect") {
		cfg.TurnDetect[key] = value
	}

	// Model bindings are fixed, config supplies endpoints and
	// credentials only.
	cfg.Asr["model"] = constants.AsrModel
	cfg.Asr["language"] = constants.AsrLanguage
	cfg.Llm["model_name"] = constants.LlmModel
	cfg.Tts["model"] = constants.TtsModel
	cfg.Tts["voice"] = constants.TtsVoice
	cfg.Tts["language"] = constants.TtsLanguage
	return cfg
}
