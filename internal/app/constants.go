package app

const (
	Name = "marketgo"

	ConfigFilename = "config.json"
	DBFilename     = "cache.sqlite"
	LogFilename    = "marketgo.log"
)
