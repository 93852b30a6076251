package environment

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pixel values of the exported navigation map.
const (
	pgmFree     = 254
	pgmOccupied = 0
)

// OccupancyMapInfo is the YAML sidecar read by 2D navigation stacks.
type OccupancyMapInfo struct {
	Image          string     `yaml:"image"`
	Resolution     float64    `yaml:"resolution"`
	Origin         [3]float64 `yaml:"origin"`
	Negate         int        `yaml:"negate"`
	OccupiedThresh float64    `yaml:"occupied_thresh"`
	FreeThresh     float64    `yaml:"free_thresh"`
}

// OccupancyMap projects the grid onto the xy plane. A column is occupied if
// any cell with center height in [zMin, zMax] is not Free. Row 0 is the
// highest y, as image viewers expect.
func (e *Environment) OccupancyMap(zMin, zMax float64) [][]uint8 {
	d := e.Dimensions
	rows := make([][]uint8, d.Y)
	for row := range rows {
		y := d.Y - 1 - row
		line := make([]uint8, d.X)
		for x := 0; x < d.X; x++ {
			line[x] = pgmFree
			for z := 0; z < d.Z; z++ {
				h := e.CoordsOfCellCenter(Index{x, y, z}).Z
				if h < zMin || h > zMax {
					continue
				}
				if e.Cells[e.IndexFrom3D(Index{x, y, z})] != Free {
					line[x] = pgmOccupied
					break
				}
			}
		}
		rows[row] = line
	}
	return rows
}

// WriteOccupancyMap writes <base>.pgm (ASCII P2) and <base>.yaml for the
// height slab [zMin, zMax].
func (e *Environment) WriteOccupancyMap(base string, zMin, zMax float64) error {
	pixels := e.OccupancyMap(zMin, zMax)
	pgmPath := base + ".pgm"

	f, err := os.Create(pgmPath)
	if err != nil {
		return fmt.Errorf("creating occupancy image: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "P2\n%d %d\n255\n", e.Dimensions.X, e.Dimensions.Y)
	var sb strings.Builder
	for _, row := range pixels {
		sb.Reset()
		for x, v := range row {
			if x > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", v)
		}
		sb.WriteByte('\n')
		w.WriteString(sb.String())
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing occupancy image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing occupancy image: %w", err)
	}

	info := OccupancyMapInfo{
		Image:          filepath.Base(pgmPath),
		Resolution:     e.CellSize,
		Origin:         [3]float64{e.MinCoord.X, e.MinCoord.Y, 0},
		OccupiedThresh: 0.9,
		FreeThresh:     0.1,
	}
	data, err := yaml.Marshal(&info)
	if err != nil {
		return fmt.Errorf("marshaling occupancy metadata: %w", err)
	}
	if err := os.WriteFile(base+".yaml", data, 0644); err != nil {
		return fmt.Errorf("writing occupancy metadata: %w", err)
	}
	return nil
}
