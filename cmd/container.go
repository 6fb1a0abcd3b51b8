// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis, email) and composes
// the idp module container. This is the only place that knows about ALL
// modules.
package main

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/config"
	"github.com/Abraxas-365/passport/pkg/idp/idpcontainer"
	"github.com/Abraxas-365/passport/pkg/logx"
	"github.com/Abraxas-365/passport/pkg/notifx"
	"github.com/Abraxas-365/passport/pkg/notifx/notifxconsole"
	"github.com/Abraxas-365/passport/pkg/notifx/notifxses"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Container holds shared infrastructure and the composed idp module.
type Container struct {
	Config *config.Config

	DB     *sqlx.DB
	Redis  *redis.Client
	Mailer *notifx.Client

	IDP *idpcontainer.Container
}

// NewContainer builds the whole application.
func NewContainer(cfg *config.Config) *Container {
	logx.Info("initializing application container")

	c := &Container{Config: cfg}
	c.initInfrastructure()

	c.IDP = idpcontainer.New(idpcontainer.Deps{
		DB:     c.DB,
		Redis:  c.Redis,
		Mailer: c.Mailer,
		Config: cfg,
	})

	logx.Info("application container initialized")
	return c
}

func (c *Container) initInfrastructure() {
	db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
	if err != nil {
		logx.Fatalf("failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	c.DB = db
	logx.Info("database connected")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if err := c.Redis.Ping(context.Background()).Err(); err != nil {
		logx.Fatalf("failed to connect to redis: %v", err)
	}
	logx.Info("redis connected")

	c.Mailer = c.buildMailer()
	registerEmailTemplates(c.Mailer)
}

// buildMailer picks the email provider. SES needs AWS credentials in the
// environment; everything else falls back to console output.
func (c *Container) buildMailer() *notifx.Client {
	if c.Config.Email.Provider == "ses" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(c.Config.Email.AWSRegion),
		)
		if err != nil {
			logx.Fatalf("failed to load AWS config: %v", err)
		}
		provider := notifxses.NewSESProvider(ses.NewFromConfig(awsCfg), c.Config.Email.From)
		logx.Info("email provider: ses")
		return notifx.NewClient(provider)
	}
	logx.Info("email provider: console")
	return notifx.NewClient(notifxconsole.NewConsoleProvider())
}

func registerEmailTemplates(mailer *notifx.Client) {
	templates := map[string]string{
		"email_verification": `Hello {{.Name}},

Please verify your email address by entering this code: {{.Code}}

If you did not request this, you can ignore this message.`,
		"otp_login": `Hello,

Your login code is: {{.Code}}

It expires in {{.TTL}}.`,
	}
	for name, tmpl := range templates {
		if err := mailer.RegisterTemplate(name, tmpl); err != nil {
			logx.Fatalf("failed to register email template %s: %v", name, err)
		}
	}
}

// Cleanup closes shared infrastructure.
func (c *Container) Cleanup() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.WithError(err).Error("failed to close database")
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.WithError(err).Error("failed to close redis")
		}
	}
}
