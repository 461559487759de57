package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"ranking-cache-service/api/dto"
	"ranking-cache-service/internal/reconcile"
)

// stringSlice collects repeated flag values.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(val string) error {
	*s = append(*s, val)
	return nil
}

type apiClient struct {
	http  *http.Client
	base  string
	token string
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "server or gateway address")
	token := flag.String("token", os.Getenv("RANKING_ADMIN_TOKEN"), "admin token for ng and refresh commands")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	c := &apiClient{
		http:  &http.Client{Timeout: *timeout},
		base:  strings.TrimRight(*addr, "/"),
		token: *token,
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch cmd {
	case "ranking":
		err = cmdRanking(c, args, os.Stdout)
	case "more":
		err = cmdMore(c, args, os.Stdout)
	case "refresh":
		err = cmdRefresh(c, args, os.Stdout)
	case "ng-get":
		err = c.print(os.Stdout, http.MethodGet, "/api/ng", nil, nil)
	case "ng-add":
		err = cmdRules(c, "ng-add", http.MethodPost, args, os.Stdout)
	case "ng-remove":
		err = cmdRules(c, "ng-remove", http.MethodDelete, args, os.Stdout)
	case "ng-clear-derived":
		err = c.print(os.Stdout, http.MethodDelete, "/api/ng/derived", nil, nil)
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cli [global options] <command> [options]")
	fmt.Fprintln(os.Stderr, "commands: ranking, more, refresh, ng-get, ng-add, ng-remove, ng-clear-derived")
}

func keyFlags(fs *flag.FlagSet) (genre, period, tag *string) {
	genre = fs.String("genre", "all", "genre")
	period = fs.String("period", "24h", "period: 24h or hour")
	tag = fs.String("tag", "", "tag")
	return
}

func cmdRanking(c *apiClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ranking", flag.ContinueOnError)
	genre, period, tag := keyFlags(fs)
	page := fs.Int("page", 0, "page of a tagged ranking, 0 for the whole ranking")
	noNG := fs.Bool("no-ng", false, "skip the stored NG list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{"genre": {*genre}, "period": {*period}}
	if *tag != "" {
		q.Set("tag", *tag)
	}
	if *page > 0 {
		q.Set("page", strconv.Itoa(*page))
	}
	if *noNG {
		q.Set("ng", "0")
	}
	return c.print(out, http.MethodGet, "/api/ranking", q, nil)
}

// cmdMore запрашивает страницы тегового рейтинга по одной и склеивает их
// на клиенте; пустая страница завершает обход.
func cmdMore(c *apiClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("more", flag.ContinueOnError)
	genre, period, tag := keyFlags(fs)
	pages := fs.Int("pages", 3, "maximum number of pages")
	if err := fs.Parse(args); err != nil {
		return err
	}

	merged, err := fetchMore(c, *genre, *period, *tag, *pages)
	if err != nil {
		return err
	}
	return writeIndented(out, map[string]any{"items": merged})
}

func fetchMore(c *apiClient, genre, period, tag string, pages int) ([]dto.RankingItem, error) {
	merged := []dto.RankingItem{}
	for page := 1; page <= pages; page++ {
		q := url.Values{"genre": {genre}, "period": {period}, "page": {strconv.Itoa(page)}}
		if tag != "" {
			q.Set("tag", tag)
		}
		body, err := c.do(http.MethodGet, "/api/ranking", q, nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		var snapshot dto.RankingSnapshot
		if err := json.Unmarshal(body, &snapshot); err != nil {
			return nil, fmt.Errorf("page %d: decode: %w", page, err)
		}
		if len(snapshot.Items) == 0 {
			break
		}
		merged = reconcile.Merge(merged, snapshot.Items)
	}
	return merged, nil
}

func cmdRefresh(c *apiClient, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	genre := fs.String("genre", "", "genre; empty runs a full warm pass")
	period := fs.String("period", "24h", "period: 24h or hour")
	tag := fs.String("tag", "", "tag")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := url.Values{}
	if *genre != "" {
		q.Set("genre", *genre)
		q.Set("period", *period)
		if *tag != "" {
			q.Set("tag", *tag)
		}
	}
	return c.print(out, http.MethodPost, "/api/refresh", q, nil)
}

func cmdRules(c *apiClient, name, method string, args []string, out io.Writer) error {
	rules, err := parseRules(name, args)
	if err != nil {
		return err
	}
	return c.print(out, method, "/api/ng/rules", nil, rules)
}

func parseRules(name string, args []string) (dto.NGRules, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var videos, authors, titleExact, titlePartial, nameExact, namePartial stringSlice
	fs.Var(&videos, "video", "video id (repeatable)")
	fs.Var(&authors, "author", "author id (repeatable)")
	fs.Var(&titleExact, "title", "exact title (repeatable)")
	fs.Var(&titlePartial, "title-part", "title substring (repeatable)")
	fs.Var(&nameExact, "name", "exact author name (repeatable)")
	fs.Var(&namePartial, "name-part", "author name substring (repeatable)")
	if err := fs.Parse(args); err != nil {
		return dto.NGRules{}, err
	}

	rules := dto.NGRules{
		VideoIDs:    videos,
		AuthorIDs:   authors,
		VideoTitles: dto.TextRules{Exact: titleExact, Partial: titlePartial},
		AuthorNames: dto.TextRules{Exact: nameExact, Partial: namePartial},
	}
	if rules.Empty() {
		return rules, errors.New(name + ": at least one rule is required")
	}
	return rules, nil
}

// do выполняет запрос и возвращает тело успешного ответа.
func (c *apiClient) do(method, path string, q url.Values, payload any) ([]byte, error) {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(dto.HeaderGatewayToken, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if source := resp.Header.Get(dto.HeaderRankingSource); source != "" {
		fmt.Fprintf(os.Stderr, "source: %s", source)
		if kind := resp.Header.Get(dto.HeaderFallbackKind); kind != "" {
			fmt.Fprintf(os.Stderr, " (%s: %s)", kind, resp.Header.Get(dto.HeaderFallbackError))
		}
		fmt.Fprintln(os.Stderr)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr dto.APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.RetryAfter > 0 {
				return nil, fmt.Errorf("%s: %s (retry after %ds)", resp.Status, apiErr.Error, apiErr.RetryAfter)
			}
			return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return nil, errors.New(resp.Status)
	}
	return data, nil
}

func (c *apiClient) print(out io.Writer, method, path string, q url.Values, payload any) error {
	data, err := c.do(method, path, q, payload)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		_, err = out.Write(data)
		return err
	}
	return writeIndented(out, v)
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
