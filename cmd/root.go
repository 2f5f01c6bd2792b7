package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dupescope/internal/annotations"
	"dupescope/internal/chunks"
	"dupescope/internal/cluster"
	"dupescope/internal/config"
	"dupescope/internal/embeddings"
	"dupescope/internal/indexer"
	"dupescope/internal/mcp"
	"dupescope/internal/models"
	"dupescope/internal/query"
	"dupescope/internal/vectorindex"
	"dupescope/internal/web"
)

// Version information, set by main.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const collectionName = "dupescope_chunks"

var rootCmd = &cobra.Command{
	Use:   "dupescope",
	Short: "Duplicate code detection and triage annotation engine",
	Long:  "Fingerprints code chunks, groups exact and near duplicates, and serves triage annotations over MCP and HTTP",
}

func outputDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("output")
	if dir == "" {
		dir = config.Get("OUTPUT_DIR", "output_dir")
	}
	if dir == "" {
		dir = "out"
	}
	return dir
}

func openAnnotations() (*annotations.Store, error) {
	return annotations.NewStore(annotations.Options{
		Path:               config.Get("DUPESCOPE_DB_PATH", "dupescope_db_path"),
		SessionID:          config.Get("SESSION_ID", "session_id"),
		AllowHumanPriority: config.GetBool(false, "ALLOW_HUMAN_PRIORITY_UPDATE", "allow_human_priority_update"),
	})
}

// loadCatalog reads chunks.jsonl without printing; commands report the count
// themselves so that stdout stays clean where it carries a protocol.
func loadCatalog(dir string) (*chunks.Catalog, int, error) {
	catalog := chunks.NewCatalog()
	snap, err := catalog.LoadJSONL(filepath.Join(dir, "chunks.jsonl"))
	if err != nil {
		return nil, 0, err
	}
	return catalog, snap.Len(), nil
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run the analysis pipeline over a chunks.jsonl file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}

		dir := outputDir(cmd)
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		k, _ := cmd.Flags().GetInt("k")
		if !cmd.Flags().Changed("threshold") {
			threshold = config.GetFloat(cluster.DefaultThreshold, "NEAR_DUP_THRESHOLD", "near_dup_threshold")
		}
		if !cmd.Flags().Changed("k") {
			k = config.GetInt(cluster.DefaultK, "NEAR_DUP_K", "near_dup_k")
		}

		store := vectorindex.NewStore(collectionName)
		defer store.Close()

		idx := indexer.New(chunks.NewCatalog(), embeddings.NewClient(), store, dir, threshold, k)
		res, err := idx.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("✓ Indexing completed: %d chunks, %d exact groups, %d near groups\n",
			res.Chunks, res.ExactGroups, res.NearGroups)
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server over stdio, or HTTP with --http",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}

		dir := outputDir(cmd)
		catalog, n, err := loadCatalog(dir)
		if err != nil {
			return err
		}
		// stdout carries the MCP protocol, so status goes to stderr.
		fmt.Fprintf(os.Stderr, "✓ Loaded %d chunks from %s\n", n, dir)
		store, err := openAnnotations()
		if err != nil {
			return err
		}
		defer store.Close()

		server := mcp.NewServer(query.NewEngine(catalog, store), store, Version)
		if addr, _ := cmd.Flags().GetString("http"); addr != "" {
			fmt.Fprintf(os.Stderr, "→ MCP server listening on %s\n", addr)
			return server.RunHTTP(cmd.Context(), addr)
		}
		return server.Run(cmd.Context())
	},
}

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}

		dir := outputDir(cmd)
		catalog, n, err := loadCatalog(dir)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Loaded %d chunks from %s\n", n, dir)
		store, err := openAnnotations()
		if err != nil {
			return err
		}
		defer store.Close()

		vectors := vectorindex.NewStore(collectionName)
		defer vectors.Close()

		allowHuman := config.GetBool(false, "ALLOW_HUMAN_PRIORITY_UPDATE", "allow_human_priority_update")
		handler := web.NewHandler(query.NewEngine(catalog, store), store, vectors, dir, allowHuman)

		addr, _ := cmd.Flags().GetString("addr")
		return web.NewServer(addr, handler).Run()
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List exact-duplicate groups from the current artifacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}

		dir := outputDir(cmd)
		catalog, n, err := loadCatalog(dir)
		if err != nil {
			return err
		}
		// stdout carries the JSON listing, so status goes to stderr.
		fmt.Fprintf(os.Stderr, "✓ Loaded %d chunks from %s\n", n, dir)
		store, err := openAnnotations()
		if err != nil {
			return err
		}
		defer store.Close()

		minCount, _ := cmd.Flags().GetInt("min-count")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		maxIDs, _ := cmd.Flags().GetInt("max-chunk-ids")
		exclude, _ := cmd.Flags().GetStringSlice("exclude-status")

		engine := query.NewEngine(catalog, store)
		page, err := engine.ListGroups(cmd.Context(), models.GroupListParams{
			MinCount:        minCount,
			Limit:           limit,
			Offset:          offset,
			MaxChunkIDs:     maxIDs,
			ExcludeStatuses: exclude,
		})
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(page, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var clearIndexCmd = &cobra.Command{
	Use:   "clear-index",
	Short: "Delete the vector collection and the local embedding cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		}

		store := vectorindex.NewStore(collectionName)
		defer store.Close()

		if err := store.Clear(cmd.Context()); err != nil {
			return err
		}

		cache := filepath.Join(outputDir(cmd), "embeddings.json")
		if err := os.Remove(cache); err != nil && !os.IsNotExist(err) {
			return err
		}
		fmt.Println("✓ Index cleared")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dupescope %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
	},
}

func init() {
	indexCmd.Flags().String("output", "", "Output directory holding chunks.jsonl and artifacts")
	indexCmd.Flags().Float64("threshold", cluster.DefaultThreshold, "Cosine similarity threshold for near duplicates")
	indexCmd.Flags().Int("k", cluster.DefaultK, "Nearest neighbors per chunk during clustering")

	mcpCmd.Flags().String("output", "", "Output directory holding chunks.jsonl and artifacts")
	mcpCmd.Flags().String("http", "", "Serve MCP over HTTP on this address instead of stdio")

	webCmd.Flags().String("output", "", "Output directory holding chunks.jsonl and artifacts")
	webCmd.Flags().String("addr", ":8000", "HTTP listen address")

	groupsCmd.Flags().String("output", "", "Output directory holding chunks.jsonl and artifacts")
	groupsCmd.Flags().Int("min-count", 2, "Smallest group size to list")
	groupsCmd.Flags().Int("limit", query.DefaultLimit, "Page size")
	groupsCmd.Flags().Int("offset", 0, "Page offset")
	groupsCmd.Flags().Int("max-chunk-ids", query.DefaultSampleIDs, "Member id samples per group")
	groupsCmd.Flags().StringSlice("exclude-status", nil, "Drop members annotated with these statuses before counting")

	clearIndexCmd.Flags().String("output", "", "Output directory holding the embedding cache")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(webCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(clearIndexCmd)
	rootCmd.AddCommand(versionCmd)
}

func Execute() error {
	return rootCmd.Execute()
}
