package main

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/servicequotas"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	eipv1 "github.com/materialize/eip-operator/api/eip/v1"
	eipv2 "github.com/materialize/eip-operator/api/eip/v2"
	"github.com/materialize/eip-operator/internal/cloudeip"
	"github.com/materialize/eip-operator/internal/clusteradapter"
	"github.com/materialize/eip-operator/internal/config"
	"github.com/materialize/eip-operator/internal/crdinstall"
	"github.com/materialize/eip-operator/internal/eipcontroller"
	"github.com/materialize/eip-operator/internal/podcontroller"
	"github.com/materialize/eip-operator/internal/quota"
	"github.com/materialize/eip-operator/internal/sweeper"
	"github.com/materialize/eip-operator/internal/tracing"
)

type runOptions struct {
	metricsBindAddress     string
	healthProbeBindAddress string
	leaderElect            bool
	skipCRDMigration       bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{
		metricsBindAddress:     ":8080",
		healthProbeBindAddress: ":8081",
	}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the eip-operator controller manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.metricsBindAddress, "metrics-bind-address", opts.metricsBindAddress, "Address the metrics endpoint binds to.")
	flags.StringVar(&opts.healthProbeBindAddress, "health-probe-bind-address", opts.healthProbeBindAddress, "Address the health probe endpoint binds to.")
	flags.BoolVar(&opts.leaderElect, "leader-elect", false, "Enable leader election for controller manager.")
	flags.BoolVar(&opts.skipCRDMigration, "skip-crd-migration", false, "Skip the v1->v2 Eip migration pass at startup.")
	return cmd
}

func run(ctx context.Context, opts *runOptions) error {
	logger := crzap.New(crzap.UseDevMode(false), crzap.JSONEncoder(), func(o *crzap.Options) {
		o.TimeEncoder = zapcore.RFC3339TimeEncoder
	})
	log.SetLogger(logger)
	ctx = ctrl.LoggerInto(ctx, logger)

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tracingCfg, err := tracing.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading tracing configuration: %w", err)
	}
	shutdownTracing, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(ctx) }()

	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		return fmt.Errorf("registering client-go scheme: %w", err)
	}
	if err := apiextensionsv1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("registering apiextensions scheme: %w", err)
	}
	if err := eipv1.AddToScheme(scheme); err != nil {
		return fmt.Errorf("registering eip v1 scheme: %w", err)
	}
	if err := eipv2.AddToScheme(scheme); err != nil {
		return fmt.Errorf("registering eip v2 scheme: %w", err)
	}

	restCfg := ctrl.GetConfigOrDie()

	mgrOpts := ctrl.Options{
		Scheme:                 scheme,
		Metrics:                server.Options{BindAddress: opts.metricsBindAddress},
		HealthProbeBindAddress: opts.healthProbeBindAddress,
		LeaderElection:         opts.leaderElect,
		LeaderElectionID:       "eip-operator-leader.eip.materialize.cloud",
	}
	if cfg.Namespace != "" {
		mgrOpts.Cache = cache.Options{DefaultNamespaces: map[string]cache.Config{cfg.Namespace: {}}}
	}
	mgr, err := ctrl.NewManager(restCfg, mgrOpts)
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	cloud, err := buildCloudAdapter(ctx)
	if err != nil {
		return fmt.Errorf("building cloud EIP adapter: %w", err)
	}

	quotaReporter, err := buildQuotaReporter(ctx)
	if err != nil {
		logger.Error(err, "quota observability disabled")
	}

	// the manager's cache only serves reads once the manager has started;
	// everything that must run before that (CRD install, migration, the
	// startup sweep) goes through a direct client instead.
	directClient, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("creating direct client: %w", err)
	}
	startupCluster := clusteradapter.New(directClient)

	if err := crdinstall.Install(ctx, startupCluster); err != nil {
		return fmt.Errorf("installing eip CRD: %w", err)
	}
	if !opts.skipCRDMigration {
		if err := crdinstall.MigrateV1ToV2(ctx, startupCluster); err != nil {
			return fmt.Errorf("migrating v1 eips to v2: %w", err)
		}
	}

	var tagIndex cloudeip.TagIndex
	if ti, err := buildTagIndex(ctx); err != nil {
		logger.Error(err, "legacy tag index disabled")
	} else {
		tagIndex = ti
	}

	sw := &sweeper.Sweeper{Cluster: startupCluster, Cloud: cloud, Config: cfg, TagIndex: tagIndex}
	if err := sw.Run(ctx); err != nil {
		return fmt.Errorf("startup orphan sweep: %w", err)
	}

	cluster := clusteradapter.New(mgr.GetClient())

	eipReconciler := &eipcontroller.Reconciler{Cluster: cluster, Cloud: cloud, Config: cfg, Quota: quotaReporter, Sweeper: sw}
	if err := eipReconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("setting up eip controller: %w", err)
	}

	podReconciler := &podcontroller.Reconciler{Cluster: cluster, Cloud: cloud, Config: cfg}
	if err := podReconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("setting up pod controller: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("adding health check: %w", err)
	}

	logger.Info("starting manager", "clusterName", cfg.ClusterName)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("manager exited: %w", err)
	}
	return nil
}

// buildCloudAdapter wires the AWS SDK v1 EC2 client the cloud EIP adapter
// is backed by, using the default credential chain.
func buildCloudAdapter(ctx context.Context) (*cloudeip.Client, error) {
	sess, err := session.NewSessionWithOptions(session.Options{SharedConfigState: session.SharedConfigEnable})
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return &cloudeip.Client{EC2: ec2.New(sess, awssdk.NewConfig())}, nil
}

// buildQuotaReporter wires the AWS SDK v2 Service Quotas client the quota
// observability post-hook uses. A nil Reporter disables the post-hook
// without failing startup, since this is observability only.
func buildQuotaReporter(ctx context.Context) (*quota.Reporter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws sdk v2 config: %w", err)
	}
	return &quota.Reporter{Client: servicequotas.NewFromConfig(awsCfg)}, nil
}

// buildTagIndex wires the AWS SDK v2 Resource Groups Tagging API client the
// sweeper uses for legacy tag-based address discovery that predates this
// operator's own tagging scheme.
func buildTagIndex(ctx context.Context) (*cloudeip.TaggingClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws sdk v2 config: %w", err)
	}
	return &cloudeip.TaggingClient{RGTA: resourcegroupstaggingapi.NewFromConfig(awsCfg)}, nil
}
