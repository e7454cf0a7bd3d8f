package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/machinebox/graphql"

	"github.com/Highrates/vspomni-sub000/internal/logging"
	"github.com/Highrates/vspomni-sub000/internal/pricing"
)

// ErrVoucherInvalid reports an unknown, expired, or ineligible promo code.
var ErrVoucherInvalid = errors.New("promo code is unknown, expired, or not applicable to this cart")

// ErrProductNotFound reports a product the backend no longer knows about.
var ErrProductNotFound = errors.New("product not found")

// Client talks to the commerce backend. Standard operations go through the
// GraphQL API; the direct endpoints are the REST forms that bypass live
// stock validation, since stock bookkeeping is deliberately decoupled from
// this storefront's checkout.
type Client struct {
	gql        *graphql.Client
	httpClient *http.Client
	directURL  string
	token      string
	logger     *slog.Logger
}

func NewClient(apiURL, directURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		gql:        graphql.NewClient(apiURL, graphql.WithHTTPClient(httpClient)),
		httpClient: httpClient,
		directURL:  strings.TrimRight(directURL, "/"),
		token:      token,
		logger:     logger,
	}
}

type gqlError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Product string `json:"product"`
	Size    string `json:"size"`
}

func (c *Client) run(ctx context.Context, req *graphql.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if err := c.gql.Run(ctx, req, out); err != nil {
		return classify(err)
	}
	return nil
}

// payloadFault converts in-payload backend errors into a classified Fault.
func payloadFault(errs []gqlError) error {
	if len(errs) == 0 {
		return nil
	}
	first := errs[0]
	base := fmt.Errorf("%s: %s", first.Code, first.Message)
	if first.Code == codeInsufficientStock || first.Code == codeOutOfStock {
		return &Fault{Kind: FaultStock, ProductName: first.Product, Size: first.Size, Err: base}
	}
	return classify(base)
}

// GetProduct looks a product up by slug with its purchasable variants.
func (c *Client) GetProduct(ctx context.Context, slug string) (*Product, error) {
	req := graphql.NewRequest(`
		query ProductBySlug($slug: String!) {
			product(slug: $slug) {
				id
				slug
				name
				isAvailableForPurchase
				variants {
					id
					size
					price
					oldPrice
				}
			}
		}`)
	req.Var("slug", slug)

	var resp struct {
		Product *struct {
			ID                     string `json:"id"`
			Slug                   string `json:"slug"`
			Name                   string `json:"name"`
			IsAvailableForPurchase bool   `json:"isAvailableForPurchase"`
			Variants               []struct {
				ID       string `json:"id"`
				Size     string `json:"size"`
				Price    int64  `json:"price"`
				OldPrice int64  `json:"oldPrice"`
			} `json:"variants"`
		} `json:"product"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to look up product %q: %w", slug, err)
	}
	if resp.Product == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, slug)
	}

	product := &Product{
		ID:        resp.Product.ID,
		Slug:      resp.Product.Slug,
		Name:      resp.Product.Name,
		Available: resp.Product.IsAvailableForPurchase,
	}
	for _, v := range resp.Product.Variants {
		product.Variants = append(product.Variants, Variant{
			ID:       v.ID,
			Size:     v.Size,
			Price:    v.Price,
			OldPrice: v.OldPrice,
		})
	}
	return product, nil
}

// CreateCheckoutDirect creates a remote checkout through the direct REST
// form. It cannot fail on stock.
func (c *Client) CreateCheckoutDirect(ctx context.Context, lines []CheckoutLine, email string) (*Checkout, error) {
	body := map[string]any{"lines": lines}
	if email != "" {
		body["email"] = email
	}

	var resp struct {
		ID          string `json:"id"`
		TotalAmount int64  `json:"total_amount"`
	}
	if err := c.postDirect(ctx, "/checkouts", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, &Fault{Kind: FaultFatal, Err: fmt.Errorf("direct checkout creation returned no checkout ID")}
	}
	return &Checkout{ID: resp.ID, TotalAmount: resp.TotalAmount}, nil
}

// CreateCheckoutStandard creates a checkout through the standard mutation.
// Unlike the direct form it validates stock and can return a stock Fault.
func (c *Client) CreateCheckoutStandard(ctx context.Context, lines []CheckoutLine, email string) (*Checkout, error) {
	req := graphql.NewRequest(`
		mutation CheckoutCreate($lines: [CheckoutLineInput!]!, $email: String) {
			checkoutCreate(input: { lines: $lines, email: $email }) {
				checkout {
					token
					totalAmount
				}
				errors {
					code
					message
					product
					size
				}
			}
		}`)
	req.Var("lines", lines)
	req.Var("email", email)

	var resp struct {
		CheckoutCreate struct {
			Checkout *struct {
				Token       string `json:"token"`
				TotalAmount int64  `json:"totalAmount"`
			} `json:"checkout"`
			Errors []gqlError `json:"errors"`
		} `json:"checkoutCreate"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("checkout creation failed: %w", err)
	}
	if err := payloadFault(resp.CheckoutCreate.Errors); err != nil {
		return nil, err
	}
	if resp.CheckoutCreate.Checkout == nil {
		return nil, &Fault{Kind: FaultFatal, Err: fmt.Errorf("checkout creation returned no checkout")}
	}
	return &Checkout{
		ID:          resp.CheckoutCreate.Checkout.Token,
		TotalAmount: resp.CheckoutCreate.Checkout.TotalAmount,
	}, nil
}

// GetCheckout fetches the remote checkout's authoritative total.
func (c *Client) GetCheckout(ctx context.Context, checkoutID string) (*Checkout, error) {
	req := graphql.NewRequest(`
		query Checkout($token: ID!) {
			checkout(token: $token) {
				token
				totalAmount
			}
		}`)
	req.Var("token", checkoutID)

	var resp struct {
		Checkout *struct {
			Token       string `json:"token"`
			TotalAmount int64  `json:"totalAmount"`
		} `json:"checkout"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch checkout %s: %w", checkoutID, err)
	}
	if resp.Checkout == nil {
		return nil, fmt.Errorf("checkout %s not found", checkoutID)
	}
	return &Checkout{ID: resp.Checkout.Token, TotalAmount: resp.Checkout.TotalAmount}, nil
}

// ValidateVoucher checks a promo code against the resolved cart variants and
// returns the normalized discount descriptor.
func (c *Client) ValidateVoucher(ctx context.Context, code string, variantIDs []string) (*Voucher, error) {
	req := graphql.NewRequest(`
		query VoucherByCode($code: String!, $variantIds: [ID!]!) {
			voucher(code: $code, variantIds: $variantIds) {
				code
				discountType
				percent
				amount
			}
		}`)
	req.Var("code", code)
	req.Var("variantIds", variantIDs)

	var resp struct {
		Voucher *struct {
			Code         string `json:"code"`
			DiscountType string `json:"discountType"`
			Percent      int64  `json:"percent"`
			Amount       int64  `json:"amount"`
		} `json:"voucher"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("voucher validation failed: %w", err)
	}
	if resp.Voucher == nil {
		return nil, ErrVoucherInvalid
	}
	return &Voucher{
		Code:    resp.Voucher.Code,
		Type:    pricing.DiscountType(resp.Voucher.DiscountType),
		Percent: resp.Voucher.Percent,
		Amount:  resp.Voucher.Amount,
	}, nil
}

// AttachVoucher re-applies the code on the remote checkout and returns the
// checkout with its authoritative post-discount total.
func (c *Client) AttachVoucher(ctx context.Context, checkoutID, code string) (*Checkout, error) {
	req := graphql.NewRequest(`
		mutation CheckoutAddPromoCode($token: ID!, $promoCode: String!) {
			checkoutAddPromoCode(token: $token, promoCode: $promoCode) {
				checkout {
					token
					totalAmount
				}
				errors {
					code
					message
				}
			}
		}`)
	req.Var("token", checkoutID)
	req.Var("promoCode", code)

	var resp struct {
		CheckoutAddPromoCode struct {
			Checkout *struct {
				Token       string `json:"token"`
				TotalAmount int64  `json:"totalAmount"`
			} `json:"checkout"`
			Errors []gqlError `json:"errors"`
		} `json:"checkoutAddPromoCode"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to attach promo code: %w", err)
	}
	if err := payloadFault(resp.CheckoutAddPromoCode.Errors); err != nil {
		return nil, err
	}
	if resp.CheckoutAddPromoCode.Checkout == nil {
		return nil, fmt.Errorf("promo attach returned no checkout")
	}
	return &Checkout{
		ID:          resp.CheckoutAddPromoCode.Checkout.Token,
		TotalAmount: resp.CheckoutAddPromoCode.Checkout.TotalAmount,
	}, nil
}

// RecordTransaction records the gateway charge on the backend as a
// transaction tied to the checkout. Advisory: callers log failures and move
// on.
func (c *Client) RecordTransaction(ctx context.Context, checkoutID, paymentID string, amount int64) error {
	req := graphql.NewRequest(`
		mutation TransactionCreate($token: ID!, $paymentId: String!, $amount: Int!) {
			transactionCreate(token: $token, paymentId: $paymentId, amount: $amount) {
				errors {
					code
					message
				}
			}
		}`)
	req.Var("token", checkoutID)
	req.Var("paymentId", paymentID)
	req.Var("amount", amount)

	var resp struct {
		TransactionCreate struct {
			Errors []gqlError `json:"errors"`
		} `json:"transactionCreate"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return payloadFault(resp.TransactionCreate.Errors)
}

// AttachEmail associates the purchaser's email with the checkout so the
// resulting order lands on their account. Advisory.
func (c *Client) AttachEmail(ctx context.Context, checkoutID, email string) error {
	req := graphql.NewRequest(`
		mutation CheckoutEmailUpdate($token: ID!, $email: String!) {
			checkoutEmailUpdate(token: $token, email: $email) {
				errors {
					code
					message
				}
			}
		}`)
	req.Var("token", checkoutID)
	req.Var("email", email)

	var resp struct {
		CheckoutEmailUpdate struct {
			Errors []gqlError `json:"errors"`
		} `json:"checkoutEmailUpdate"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return fmt.Errorf("failed to attach email: %w", err)
	}
	return payloadFault(resp.CheckoutEmailUpdate.Errors)
}

// SetBillingAddress attaches a billing address to the checkout. The backend
// requires some address to finalize; callers degrade to a placeholder when
// the purchaser has none saved. Advisory.
func (c *Client) SetBillingAddress(ctx context.Context, checkoutID string, address Address) error {
	req := graphql.NewRequest(`
		mutation CheckoutBillingAddressUpdate($token: ID!, $address: AddressInput!) {
			checkoutBillingAddressUpdate(token: $token, address: $address) {
				errors {
					code
					message
				}
			}
		}`)
	req.Var("token", checkoutID)
	req.Var("address", address)

	var resp struct {
		CheckoutBillingAddressUpdate struct {
			Errors []gqlError `json:"errors"`
		} `json:"checkoutBillingAddressUpdate"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return fmt.Errorf("failed to set billing address: %w", err)
	}
	return payloadFault(resp.CheckoutBillingAddressUpdate.Errors)
}

// GetDefaultAddress fetches the purchaser's default saved address, if any.
func (c *Client) GetDefaultAddress(ctx context.Context, email string) (*Address, error) {
	req := graphql.NewRequest(`
		query AccountDefaultAddress($email: String!) {
			accountDefaultAddress(email: $email) {
				firstName
				lastName
				street
				city
				postalCode
				country
				phone
			}
		}`)
	req.Var("email", email)

	var resp struct {
		AccountDefaultAddress *struct {
			FirstName  string `json:"firstName"`
			LastName   string `json:"lastName"`
			Street     string `json:"street"`
			City       string `json:"city"`
			PostalCode string `json:"postalCode"`
			Country    string `json:"country"`
			Phone      string `json:"phone"`
		} `json:"accountDefaultAddress"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch default address: %w", err)
	}
	if resp.AccountDefaultAddress == nil {
		return nil, nil
	}
	addr := resp.AccountDefaultAddress
	return &Address{
		FirstName:  addr.FirstName,
		LastName:   addr.LastName,
		Street:     addr.Street,
		City:       addr.City,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}, nil
}

// CompleteDirect finalizes the checkout through the direct REST form,
// bypassing stock validation. Repeating the call for an already-completed
// checkout returns the same order.
func (c *Client) CompleteDirect(ctx context.Context, checkoutID string) (*Order, error) {
	var resp struct {
		Order *struct {
			ID     string `json:"id"`
			Number string `json:"number"`
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := c.postDirect(ctx, "/checkouts/"+checkoutID+"/complete", map[string]any{}, &resp); err != nil {
		return nil, err
	}
	if resp.Order == nil {
		return nil, &Fault{Kind: FaultFatal, Err: fmt.Errorf("direct completion returned no order")}
	}
	return &Order{ID: resp.Order.ID, Number: resp.Order.Number, Status: resp.Order.Status}, nil
}

// CompleteStandard finalizes through the standard mutation, which can fail
// on stock. An already-completed checkout yields ErrCheckoutCompleted.
func (c *Client) CompleteStandard(ctx context.Context, checkoutID string) (*Order, error) {
	req := graphql.NewRequest(`
		mutation CheckoutComplete($token: ID!) {
			checkoutComplete(token: $token) {
				order {
					id
					number
					status
				}
				errors {
					code
					message
					product
					size
				}
			}
		}`)
	req.Var("token", checkoutID)

	var resp struct {
		CheckoutComplete struct {
			Order *struct {
				ID     string `json:"id"`
				Number string `json:"number"`
				Status string `json:"status"`
			} `json:"order"`
			Errors []gqlError `json:"errors"`
		} `json:"checkoutComplete"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("checkout completion failed: %w", err)
	}
	for _, e := range resp.CheckoutComplete.Errors {
		if e.Code == "ALREADY_COMPLETED" {
			return nil, ErrCheckoutCompleted
		}
	}
	if err := payloadFault(resp.CheckoutComplete.Errors); err != nil {
		return nil, err
	}
	if resp.CheckoutComplete.Order == nil {
		return nil, &Fault{Kind: FaultFatal, Err: fmt.Errorf("completion returned no order")}
	}
	return &Order{
		ID:     resp.CheckoutComplete.Order.ID,
		Number: resp.CheckoutComplete.Order.Number,
		Status: resp.CheckoutComplete.Order.Status,
	}, nil
}

type directErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Product string `json:"product"`
	Size    string `json:"size"`
}

func (c *Client) postDirect(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return &Fault{Kind: FaultFatal, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.directURL+path, bytes.NewReader(raw))
	if err != nil {
		return &Fault{Kind: FaultFatal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logging.FromContext(ctx, c.logger).Warn("failed to close response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classify(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(payload, out); err != nil {
			return &Fault{Kind: FaultFatal, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	}

	var errPayload directErrorPayload
	_ = json.Unmarshal(payload, &errPayload)
	base := fmt.Errorf("direct endpoint %s returned %d: %s", path, resp.StatusCode, firstNonEmpty(errPayload.Message, strings.TrimSpace(string(payload))))

	switch {
	case errPayload.Code == codeInsufficientStock || errPayload.Code == codeOutOfStock || resp.StatusCode == http.StatusConflict:
		return &Fault{Kind: FaultStock, ProductName: errPayload.Product, Size: errPayload.Size, Err: base}
	case resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= http.StatusInternalServerError:
		return &Fault{Kind: FaultTransient, Err: base}
	default:
		return &Fault{Kind: FaultFatal, Err: base}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
