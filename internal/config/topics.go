package config

const (
	// TopicCorpusReindex is the NSQ topic for corpus reindex tasks.
	TopicCorpusReindex = "corpus.reindex"
)
