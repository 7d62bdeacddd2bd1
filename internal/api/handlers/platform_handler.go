package handlers

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
	config "github.com/promotrack/insights-api/configs"
	"github.com/promotrack/insights-api/internal/repository"
	"github.com/promotrack/insights-api/internal/service"
)

type PlatformHandler struct {
	cfg      config.Config
	ig       service.InstagramService
	cred     service.CredentialService
	insights service.InsightsService
	sa       repository.SocialAccountRepository
}

func NewPlatformHandler(
	cfg config.Config,
	ig service.InstagramService,
	cred service.CredentialService,
	insights service.InsightsService,
	sa repository.SocialAccountRepository) *PlatformHandler {
	return &PlatformHandler{
		cfg:      cfg,
		ig:       ig,
		cred:     cred,
		insights: insights,
		sa:       sa,
	}
}

// AddSocialAccount starts the one-time account connection by sending the
// user to the provider consent screen.
func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	authURL := fmt.Sprintf(
		"https://api.instagram.com/oauth/authorize?client_id=%s&redirect_uri=%s&scope=instagram_business_basic,instagram_business_manage_insights&response_type=code",
		h.cfg.InstagramClientID,
		url.QueryEscape(h.cfg.InstagramRedirectURI),
	)
	return c.Redirect(authURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	code := c.Query("code")
	userID := GetUserID(c)

	err := h.ig.InstagramCallback(c.Context(), code, userID)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to connect account",
		})
	}

	return c.Redirect(h.cfg.FrontendURL, fiber.StatusTemporaryRedirect)
}

func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accounts, err := h.sa.ListInfoByUserID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accounts)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	id := c.QueryInt("id", 0)

	err := h.sa.Remove(c.Context(), userID, int64(id))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to remove account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

// ListMedia proxies the provider media listing so the client can pick the
// post to register.
func (h *PlatformHandler) ListMedia(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountID := c.Query("account_id")

	if accountID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "account_id is required",
		})
	}

	accessToken, err := h.cred.Get(c.Context(), userID, accountID)
	if err != nil {
		slog.Info("credential resolution failed for media listing, user " + strconv.FormatInt(userID, 10))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to access account",
		})
	}

	media, err := h.insights.ListMedia(c.Context(), accountID, accessToken)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list media",
		})
	}

	return c.Status(fiber.StatusOK).JSON(media)
}
