// Package handlers exposes the HTTP surface: order intake, fulfillment queue
// control, product imports, and retry-queue administration.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/shopopti/go-import-fulfillment/internal/fulfillment"
	"github.com/shopopti/go-import-fulfillment/internal/fulfillment/supplier"
	"github.com/shopopti/go-import-fulfillment/internal/importer"
	"github.com/shopopti/go-import-fulfillment/internal/importer/bulk"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
	"github.com/shopopti/go-import-fulfillment/internal/transport"
	"github.com/shopopti/go-import-fulfillment/internal/validation"
)

// CredentialWriter stores supplier credentials. Satisfied by the fulfillment
// vault.
type CredentialWriter interface {
	Put(ctx context.Context, supplierType string, creds supplier.Credentials) error
}

// Config groups the handler dependencies.
type Config struct {
	Orders         *fulfillment.OrderStore
	Queue          *fulfillment.QueueStore
	Dispatcher     *fulfillment.Dispatcher
	Vault          CredentialWriter
	Pipeline       *importer.Pipeline
	Bulk           *bulk.Scheduler
	TransportQueue transport.QueueStore
	Logger         *logging.Logger
}

// Register wires all routes onto the engine.
func Register(r *gin.Engine, cfg Config) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	v := validation.New()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	registerOrderRoutes(r, cfg, v)
	registerImportRoutes(r, cfg, v)
	registerQueueRoutes(r, cfg)
}

func registerOrderRoutes(r *gin.Engine, cfg Config, v *validatorv10.Validate) {
	r.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		order := fulfillment.Order{
			OrderID:  uuid.NewString(),
			Number:   req.Number,
			Total:    req.Total,
			Currency: req.Currency,
			ShippingAddress: fulfillment.Address{
				Name:        req.ShippingAddress.Name,
				Phone:       req.ShippingAddress.Phone,
				Email:       req.ShippingAddress.Email,
				Address1:    req.ShippingAddress.Address1,
				Address2:    req.ShippingAddress.Address2,
				City:        req.ShippingAddress.City,
				Province:    req.ShippingAddress.Province,
				Zip:         req.ShippingAddress.Zip,
				CountryCode: req.ShippingAddress.CountryCode,
			},
		}
		for _, it := range req.Items {
			order.Items = append(order.Items, fulfillment.LineItem{
				SKU:       it.SKU,
				ProductID: it.ProductID,
				Title:     it.Title,
				Quantity:  it.Quantity,
				Price:     it.Price,
			})
		}

		if err := cfg.Orders.Put(ctx, order); err != nil {
			cfg.Logger.Error("create order", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "order_create_failed"})
			return
		}
		c.Header("Location", "/orders/"+order.OrderID)
		c.JSON(http.StatusCreated, gin.H{"order_id": order.OrderID})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		order, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, fulfillment.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, order)
	})

	r.POST("/orders/:id/fulfill", func(c *gin.Context) {
		item, err := cfg.Dispatcher.Enqueue(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusAccepted, item)
		case errors.Is(err, fulfillment.ErrAlreadyQueued):
			c.JSON(http.StatusConflict, gin.H{"error": "already_queued"})
		case errors.Is(err, fulfillment.ErrNoSupplierMapping):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no_supplier_mapping"})
		case errors.Is(err, fulfillment.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		default:
			cfg.Logger.Error("enqueue fulfillment", "order_id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "fulfillment_enqueue_failed"})
		}
	})

	r.GET("/orders/:id/fulfillment", func(c *gin.Context) {
		item, err := cfg.Queue.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, fulfillment.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not_queued"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
	})

	r.POST("/orders/:id/fulfillment/cancel", func(c *gin.Context) {
		err := cfg.Queue.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, fulfillment.ErrStatusMismatch) {
				c.JSON(http.StatusConflict, gin.H{"error": "not_cancellable"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": fulfillment.StatusCancelled})
	})

	r.POST("/orders/:id/fulfillment/retry", func(c *gin.Context) {
		err := cfg.Queue.RetryNow(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, fulfillment.ErrStatusMismatch) {
				c.JSON(http.StatusConflict, gin.H{"error": "not_retryable"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": fulfillment.StatusPending})
	})

	r.GET("/fulfillment/queue", func(c *gin.Context) {
		items, err := cfg.Queue.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
	})

	r.PUT("/suppliers/:type/credentials", func(c *gin.Context) {
		if cfg.Vault == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "credential_store_unavailable"})
			return
		}
		var req validation.ConnectSupplierRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		creds := supplier.Credentials{APIKey: req.APIKey, APISecret: req.APISecret, AccessToken: req.AccessToken}
		if creds.Empty() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "empty_credentials"})
			return
		}
		if err := cfg.Vault.Put(c.Request.Context(), c.Param("type"), creds); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"supplier": c.Param("type")})
	})
}

func registerImportRoutes(r *gin.Engine, cfg Config, v *validatorv10.Validate) {
	r.POST("/imports", func(c *gin.Context) {
		var req validation.ImportRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		res, err := cfg.Pipeline.ProcessURL(c.Request.Context(), req.URL, importer.ProcessOptions{
			Silent:          req.Silent,
			ForceFullImport: req.ForceFullImport,
		})
		if err != nil {
			cfg.Logger.Error("import", "url", req.URL, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.POST("/imports/bulk", func(c *gin.Context) {
		var req validation.BulkImportRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		sched := cfg.Bulk
		if req.Concurrency > 0 {
			sched = bulk.NewScheduler(cfg.Pipeline, cfg.Logger, bulk.WithConcurrency(req.Concurrency))
		}
		summary, err := sched.Run(c.Request.Context(), req.URLs, importer.ProcessOptions{})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
			return
		}
		c.JSON(http.StatusOK, gin.H{"summary": summary, "message": summary.String()})
	})

	r.GET("/imports/:id", func(c *gin.Context) {
		job, err := cfg.Pipeline.Jobs().Get(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
			return
		}
		c.JSON(http.StatusOK, job)
	})

	r.POST("/imports/:id/confirm", func(c *gin.Context) {
		res, err := cfg.Pipeline.ConfirmImport(c.Request.Context(), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, res)
		case errors.Is(err, importer.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
		case errors.Is(err, importer.ErrJobNotAwaiting):
			c.JSON(http.StatusConflict, gin.H{"error": "not_awaiting_confirmation"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	r.POST("/imports/:id/cancel", func(c *gin.Context) {
		job, err := cfg.Pipeline.CancelImport(c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, job)
		case errors.Is(err, importer.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
		case errors.Is(err, importer.ErrJobTerminal):
			c.JSON(http.StatusConflict, gin.H{"error": "job_already_finished"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})
}

func registerQueueRoutes(r *gin.Engine, cfg Config) {
	r.GET("/queue/status", func(c *gin.Context) {
		status, err := cfg.TransportQueue.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	r.DELETE("/queue", func(c *gin.Context) {
		if err := cfg.TransportQueue.Clear(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"cleared": true})
	})
}
