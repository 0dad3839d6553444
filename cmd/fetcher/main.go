package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spatialops/stac-fetcher/common"
	"github.com/spatialops/stac-fetcher/fetcher"
	"github.com/spatialops/stac-fetcher/interface/messaging"
	"github.com/spatialops/stac-fetcher/interface/messaging/pubsub"
	"github.com/spatialops/stac-fetcher/interface/provider"
	"github.com/spatialops/stac-fetcher/interface/signer"
	"github.com/spatialops/stac-fetcher/interface/storage"
	"github.com/spatialops/stac-fetcher/resolver"
	"github.com/spatialops/stac-fetcher/service"
	"github.com/spatialops/stac-fetcher/service/log"
)

type config struct {
	WorkingDir  string
	StorageURI  string
	Concurrency int
	Probe       bool

	PsProject   string
	JobSub      string
	ResultTopic string

	SigningEndpoint    string
	SubscriptionKey    string
	TokenRedis         string
	TokenRedisPassword string
	TokenRedisDb       int

	LocalProviderPath string
	HTTPUsername      string
	HTTPPassword      string
	HTTPHeaders       []string
	FTPUsername       string
	FTPPassword       string
	S3Endpoint        string
	S3Region          string
	S3Anonymous       bool
	S3RequesterPays   bool
}

func newAppConfig() (*config, error) {
	config := config{}
	// Global config
	flag.StringVar(&config.WorkingDir, "workdir", "/local-ssd", "working directory to store the assets before upload")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri (currently supported: local, gs, s3). To store the fetched assets.")
	flag.IntVar(&config.Concurrency, "concurrency", 4, "number of assets downloaded in parallel")
	flag.BoolVar(&config.Probe, "probe", false, "check that raster assets are reachable and well-formed before downloading")

	// Messaging
	flag.StringVar(&config.PsProject, "ps-project", "", "pubsub project (gcp only/not required in local usage)")
	flag.StringVar(&config.JobSub, "job-sub", "", "name of the subscription for fetcher jobs")
	flag.StringVar(&config.ResultTopic, "result-topic", "", "name of the topic for fetcher results")

	// Signing endpoint
	flag.StringVar(&config.SigningEndpoint, "signing-endpoint", "", "signing endpoint handing out storage access tokens (optional). To sign asset locators just before download.")
	flag.StringVar(&config.SubscriptionKey, "signing-subscription-key", "", "api key of the signing endpoint (optional)")
	flag.StringVar(&config.TokenRedis, "token-redis", "", "address of a redis instance to share the token cache between processes (optional)")
	flag.StringVar(&config.TokenRedisPassword, "token-redis-password", "", "password of the redis instance (optional)")
	flag.IntVar(&config.TokenRedisDb, "token-redis-db", 0, "database of the redis instance")

	// Providers
	flag.StringVar(&config.LocalProviderPath, "local-path", "", "local path where assets are stored (optional). To configure a local path as a potential asset Provider.")
	flag.StringVar(&config.HTTPUsername, "http-username", "", "basic-auth username for the http(s) Provider (optional)")
	flag.StringVar(&config.HTTPPassword, "http-password", "", "basic-auth password for the http(s) Provider (optional)")
	httpHeaders := flag.String("http-headers", "", "extra headers for the http(s) Provider. List of key:value comma-separated (optional)")
	flag.StringVar(&config.FTPUsername, "ftp-username", "", "ftp account username (optional). To configure FTP as a potential asset Provider.")
	flag.StringVar(&config.FTPPassword, "ftp-password", "", "ftp account password (optional)")
	flag.StringVar(&config.S3Endpoint, "s3-endpoint", "", "s3 endpoint (optional). To configure a non-aws s3 service as a potential asset Provider.")
	flag.StringVar(&config.S3Region, "s3-region", "", "s3 region (optional)")
	flag.BoolVar(&config.S3Anonymous, "s3-anonymous", false, "access the s3 buckets without credentials")
	flag.BoolVar(&config.S3RequesterPays, "s3-requester-pays", false, "access the s3 buckets with requester-pays")

	flag.Parse()

	if config.WorkingDir == "" {
		return nil, fmt.Errorf("missing workdir config flag")
	}
	if config.StorageURI == "" {
		return nil, fmt.Errorf("missing storage-uri config flag")
	}
	if *httpHeaders != "" {
		config.HTTPHeaders = strings.Split(*httpHeaders, ",")
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	// Messaging
	var jobConsumer messaging.Consumer
	var resultPublisher messaging.Publisher
	var logMessaging string
	{
		if config.JobSub != "" {
			logMessaging += fmt.Sprintf(" pulling on pubsub:%s/%s", config.PsProject, config.JobSub)
			if jobConsumer, err = pubsub.NewConsumer(config.PsProject, config.JobSub); err != nil {
				return fmt.Errorf("pubsub.NewConsumer: %w", err)
			}
		}
		if config.ResultTopic != "" {
			logMessaging += fmt.Sprintf(" pushing on pubsub:%s/%s", config.PsProject, config.ResultTopic)
			resultTopic, err := pubsub.NewPublisher(ctx, config.PsProject, config.ResultTopic, pubsub.WithMaxRetries(5))
			if err != nil {
				return fmt.Errorf("pubsub.NewPublisher: %w", err)
			}
			defer resultTopic.Stop()
			resultPublisher = resultTopic
		}
	}
	if jobConsumer == nil {
		return fmt.Errorf("missing configuration for messaging.JobConsumer")
	}
	if resultPublisher == nil {
		return fmt.Errorf("missing configuration for messaging.ResultPublisher")
	}

	storageService, err := storage.NewStorage(ctx, config.StorageURI)
	if err != nil {
		return fmt.Errorf("storage %s: %w", config.StorageURI, err)
	}

	// Load asset providers
	var assetProviders []provider.AssetProvider
	var providerNames []string
	if config.LocalProviderPath != "" {
		providerNames = append(providerNames, "local ("+config.LocalProviderPath+")")
		assetProviders = append(assetProviders, provider.NewLocalProvider(config.LocalProviderPath))
	}
	{
		var urlOpts []provider.URLOption
		if config.HTTPUsername != "" {
			urlOpts = append(urlOpts, provider.WithBasicAuth(config.HTTPUsername, config.HTTPPassword), provider.WithAuthOnRedirect())
		}
		for _, header := range config.HTTPHeaders {
			kv := strings.SplitN(header, ":", 2)
			if len(kv) != 2 {
				return fmt.Errorf("malformed http-headers config. Must be key:value")
			}
			urlOpts = append(urlOpts, provider.WithHeader(kv[0], kv[1]))
		}
		providerNames = append(providerNames, "http(s)")
		assetProviders = append(assetProviders, provider.NewURLProvider(urlOpts...))
	}
	{
		providerNames = append(providerNames, "GS")
		assetProviders = append(assetProviders, provider.NewGSProvider())
	}
	{
		var s3Opts []provider.S3Option
		if config.S3Endpoint != "" {
			s3Opts = append(s3Opts, provider.WithEndpoint(config.S3Endpoint))
		}
		if config.S3Region != "" {
			s3Opts = append(s3Opts, provider.WithRegion(config.S3Region))
		}
		if config.S3Anonymous {
			s3Opts = append(s3Opts, provider.WithAnonymous())
		}
		if config.S3RequesterPays {
			s3Opts = append(s3Opts, provider.WithRequesterPays())
		}
		providerNames = append(providerNames, "S3")
		assetProviders = append(assetProviders, provider.NewS3Provider(s3Opts...))
	}
	if config.FTPUsername != "" {
		providerNames = append(providerNames, "FTP ("+config.FTPUsername+")")
		assetProviders = append(assetProviders, provider.NewFTPProvider(config.FTPUsername, config.FTPPassword))
	}

	// Fetcher
	fetcherOpts := []fetcher.Option{fetcher.WithConcurrency(config.Concurrency)}
	if config.SigningEndpoint != "" {
		var signerOpts []signer.Option
		if config.SubscriptionKey != "" {
			signerOpts = append(signerOpts, signer.WithSubscriptionKey(config.SubscriptionKey))
		}
		var cacheOpts []resolver.CacheOption
		if config.TokenRedis != "" {
			cacheOpts = append(cacheOpts, resolver.WithStore(signer.NewRedisStore(config.TokenRedis, config.TokenRedisPassword, config.TokenRedisDb)))
		}
		fetcherOpts = append(fetcherOpts, fetcher.WithResolver(resolver.New(
			signer.NewClient(config.SigningEndpoint, signerOpts...),
			resolver.WithCache(resolver.NewCache(cacheOpts...)))))
	}
	if config.Probe {
		fetcherOpts = append(fetcherOpts, fetcher.WithProbe())
	}
	f := fetcher.New(assetProviders, storageService, config.WorkingDir, fetcherOpts...)

	jobStarted := time.Time{}
	go func() {
		http.HandleFunc("/termination_cost", func(w http.ResponseWriter, r *http.Request) {
			terminationCost := 0
			if jobStarted != (time.Time{}) {
				terminationCost = int(time.Since(jobStarted).Seconds() * 1000) //milliseconds since task was leased
			}
			fmt.Fprintf(w, "%d", terminationCost)
		})
		http.ListenAndServe(":9000", nil)
	}()

	maxTries := 15
	log.Logger(ctx).Debug("fetcher starts" + logMessaging + " downloading assets from " + strings.Join(providerNames, ", ") + " exporting to " + config.StorageURI)
	for {
		err := jobConsumer.Pull(ctx, func(ctx context.Context, msg *messaging.Message) error {
			jobStarted = time.Now()
			defer func() {
				jobStarted = time.Time{}
			}()
			ctx = log.With(ctx, "msgID", msg.ID)
			log.Logger(log.With(ctx, "body", string(msg.Data))).Sugar().Debugf("message %s try %d", msg.ID, msg.TryCount)

			job := common.JobToFetch{}
			if err := json.Unmarshal(msg.Data, &job); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			} else if job.ID == 0 || len(job.Assets) == 0 {
				return fmt.Errorf("invalid payload: %d-%d", job.ID, len(job.Assets))
			}
			ctx = log.With(ctx, "item", job.ItemID)

			if msg.TryCount > maxTries {
				results := []common.Result{{Type: common.ResultTypeJob, ID: job.ID, Status: common.StatusFAILED, Message: "too many retries"}}
				return publishResults(ctx, resultPublisher, results)
			}

			results := f.ProcessJob(ctx, job)
			if err := publishResults(ctx, resultPublisher, results); err != nil {
				return err
			}
			log.Logger(ctx).Sugar().Infof("processed item %s", job.ItemID)
			return nil
		})
		if err != nil {
			return fmt.Errorf("ps.process: %w", err)
		}
	}
}

func publishResults(ctx context.Context, publisher messaging.Publisher, results []common.Result) error {
	for _, res := range results {
		resb, err := json.Marshal(res)
		if err != nil {
			return service.MakeTemporary(fmt.Errorf("marshal: %w", err))
		}
		if err := publisher.Publish(ctx, resb); err != nil {
			return service.MakeTemporary(fmt.Errorf("failed to enqueue result: %w", err))
		}
	}
	return nil
}
